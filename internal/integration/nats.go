package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/models"
)

// DefaultSubjectPrefix is used when no NATS subject prefix is configured.
const DefaultSubjectPrefix = "ingest"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL               string
	Username          string
	Password          string
	MaxReconnects     int
	ReconnectInterval time.Duration
}

// ConnectNATS connects to the NATS server.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("udp-ingest"),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return nc, nil
}

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event to <prefix>.<devaddr>.event.
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a NATS sink.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Name implements Sink.
func (s *NATSSink) Name() string {
	return "nats"
}

// Subject returns the subject for a device.
func (s *NATSSink) Subject(devAddr string) string {
	return fmt.Sprintf("%s.%s.event", s.prefix, devAddr)
}

// Send implements Sink.
func (s *NATSSink) Send(_ context.Context, ev *models.DecodedEvent) error {
	data, err := json.Marshal(ev.Message())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.pub.Publish(s.Subject(ev.Uplink.DevAddr), data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}

	return nil
}
