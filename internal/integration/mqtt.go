package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/models"
)

const (
	// DefaultMQTTTopic {dev_addr} and {gateway_id} are substituted per event
	DefaultMQTTTopic = "udp-ingest/{dev_addr}/event"

	mqttPublishTimeout = 5 * time.Second
	mqttConnectTimeout = 10 * time.Second
)

// ErrPublishTimeout is returned when the broker does not confirm a publish
// in time.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// NewMQTTClient 创建并连接 MQTT 客户端
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}

	return client, nil
}

// MQTTPublisher is the subset of mqtt.Client used by MQTTSink.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each event as JSON.
type MQTTSink struct {
	client MQTTPublisher
	topic  string
	qos    byte
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(client MQTTPublisher, topic string, qos byte) *MQTTSink {
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return &MQTTSink{client: client, topic: topic, qos: qos}
}

// Name implements Sink.
func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Topic returns the topic for an uplink.
func (s *MQTTSink) Topic(up *models.Uplink) string {
	topic := strings.ReplaceAll(s.topic, "{dev_addr}", up.DevAddr)
	return strings.ReplaceAll(topic, "{gateway_id}", up.GatewayID)
}

// Send implements Sink.
func (s *MQTTSink) Send(ctx context.Context, ev *models.DecodedEvent) error {
	data, err := json.Marshal(ev.Message())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := s.Topic(ev.Uplink)
	token := s.client.Publish(topic, s.qos, false, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to mqtt: %w", err)
	}

	return nil
}
