// Package dispatcher decodes uplinks, forwards them to the ingest sinks when a
// session is active and records every event in the audit log.
package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/decoder"
	"github.com/lorawan-server/udp-ingest/internal/integration"
	"github.com/lorawan-server/udp-ingest/internal/metrics"
	"github.com/lorawan-server/udp-ingest/internal/models"
	"github.com/lorawan-server/udp-ingest/internal/storage"
)

// AuditLog is the local append-only record of decoded events.
type AuditLog interface {
	Append(entry models.AuditEntry) error
}

// EventStore optionally mirrors audit entries into a database.
type EventStore interface {
	CreateUplinkEvent(ctx context.Context, e *models.AuditEntry) error
}

// Dispatcher implements gateway.Dispatcher.
type Dispatcher struct {
	decoder  decoder.Decoder
	taxonomy *decoder.Taxonomy
	sessions storage.SessionProvider
	sinks    []integration.Sink
	audit    AuditLog
	events   EventStore
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTaxonomy resolves taxonomy codes to common names.
func WithTaxonomy(t *decoder.Taxonomy) Option {
	return func(d *Dispatcher) {
		d.taxonomy = t
	}
}

// WithSinks sets the sinks that receive events while a session is active.
func WithSinks(sinks ...integration.Sink) Option {
	return func(d *Dispatcher) {
		d.sinks = append(d.sinks, sinks...)
	}
}

// WithEventStore mirrors audit entries into s.
func WithEventStore(s EventStore) Option {
	return func(d *Dispatcher) {
		d.events = s
	}
}

// New creates a dispatcher. A nil decoder fails every payload with
// decoder.ErrNoDecoder.
func New(dec decoder.Decoder, sessions storage.SessionProvider, audit AuditLog, opts ...Option) *Dispatcher {
	if dec == nil {
		dec = decoder.Unconfigured{}
	}
	if sessions == nil {
		sessions = storage.StaticSession{}
	}

	d := &Dispatcher{
		decoder:  dec,
		taxonomy: decoder.NewTaxonomy(nil),
		sessions: sessions,
		audit:    audit,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch decodes up, forwards it when a session is active and appends it
// to the audit log. Failures are logged and never stop the pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, up *models.Uplink) {
	ev := d.decode(up)

	forwarded := false
	sessionID, ok, err := d.sessions.CurrentSession(ctx)
	switch {
	case err != nil:
		log.Error().Err(err).Str("devaddr", up.DevAddr).Msg("Failed to look up current session")
		metrics.ForwardsTotal.WithLabelValues("session", "error").Inc()
	case !ok:
		log.Info().Str("devaddr", up.DevAddr).Msg("No active session, skipping forward")
		metrics.ForwardsTotal.WithLabelValues("session", "none").Inc()
	default:
		ev.SessionID = sessionID
		forwarded = d.forward(ctx, ev)
	}

	d.persist(ctx, ev, forwarded)
}

func (d *Dispatcher) decode(up *models.Uplink) *models.DecodedEvent {
	ev := &models.DecodedEvent{Uplink: up}

	result, err := d.decoder.Decode(up.Decrypted)
	if err != nil {
		log.Warn().Err(err).Str("devaddr", up.DevAddr).Str("payload", up.DecryptedHex()).Msg("Failed to decode payload")
		metrics.DecodeErrors.Inc()
		ev.DecodeError = err.Error()
		return ev
	}

	ts := result.Timestamp.UTC()
	code := result.TaxonomyCode
	name := d.taxonomy.CommonName(code)
	conf := result.ConfidenceBin

	ev.EventTime = &ts
	ev.TaxonomyCode = &code
	ev.CommonName = &name
	ev.ConfidenceBin = &conf

	return ev
}

// forward sends ev to every sink and reports whether any accepted it.
func (d *Dispatcher) forward(ctx context.Context, ev *models.DecodedEvent) bool {
	accepted := false

	for _, sink := range d.sinks {
		start := time.Now()
		err := sink.Send(ctx, ev)
		metrics.ForwardDuration.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("devaddr", ev.Uplink.DevAddr).
				Str("session", ev.SessionID).
				Msg("Failed to forward event")
			metrics.ForwardsTotal.WithLabelValues(sink.Name(), "error").Inc()
			continue
		}

		log.Debug().
			Str("sink", sink.Name()).
			Str("devaddr", ev.Uplink.DevAddr).
			Str("session", ev.SessionID).
			Msg("Event forwarded")
		metrics.ForwardsTotal.WithLabelValues(sink.Name(), "ok").Inc()
		accepted = true
	}

	return accepted
}

func (d *Dispatcher) persist(ctx context.Context, ev *models.DecodedEvent, forwarded bool) {
	entry := ev.AuditEntry(forwarded)

	if d.audit != nil {
		if err := d.audit.Append(entry); err != nil {
			log.Error().Err(err).Str("devaddr", entry.DevAddr).Msg("Unable to write to audit log")
			metrics.AuditWrites.WithLabelValues("error").Inc()
		} else {
			metrics.AuditWrites.WithLabelValues("ok").Inc()
		}
	}

	if d.events != nil {
		if err := d.events.CreateUplinkEvent(ctx, &entry); err != nil {
			log.Error().Err(err).Str("devaddr", entry.DevAddr).Msg("Failed to store uplink event")
		}
	}
}
