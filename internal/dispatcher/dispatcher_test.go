package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/udp-ingest/internal/decoder"
	"github.com/lorawan-server/udp-ingest/internal/models"
	"github.com/lorawan-server/udp-ingest/internal/storage"
)

type memoryAudit struct {
	entries []models.AuditEntry
	err     error
}

func (m *memoryAudit) Append(e models.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

type fakeSink struct {
	name   string
	events []*models.DecodedEvent
	err    error
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(_ context.Context, ev *models.DecodedEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

type failingSessions struct{}

func (failingSessions) CurrentSession(context.Context) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

type memoryEvents struct {
	entries []*models.AuditEntry
}

func (m *memoryEvents) CreateUplinkEvent(_ context.Context, e *models.AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

var eventTime = time.Date(2024, 5, 1, 9, 59, 58, 0, time.UTC)

func okDecoder() decoder.Decoder {
	return decoder.Func(func([]byte) (decoder.Event, error) {
		return decoder.Event{Timestamp: eventTime, TaxonomyCode: 300, ConfidenceBin: 2}, nil
	})
}

func failDecoder() decoder.Decoder {
	return decoder.Func(func([]byte) (decoder.Event, error) {
		return decoder.Event{}, errors.New("unexpected header byte 0x00")
	})
}

func testUplink() *models.Uplink {
	return &models.Uplink{
		ID:           uuid.New(),
		ReceivedAt:   time.Now(),
		DevAddr:      "01020304",
		FCnt:         5,
		EncryptedFRM: []byte{0xde, 0xad},
		MIC:          [4]byte{0xAA, 0xBB, 0xCC, 0xDD},
		Decrypted:    []byte{0x0a, 0xbc},
	}
}

func TestDispatchForwardsWithSession(t *testing.T) {
	audit := &memoryAudit{}
	sink := &fakeSink{name: "http"}
	tax := decoder.NewTaxonomy(map[int]string{300: "Eurasian Blackbird"})

	d := New(okDecoder(), storage.StaticSession{ID: "7"}, audit, WithSinks(sink), WithTaxonomy(tax))
	d.Dispatch(context.Background(), testUplink())

	require.Len(t, sink.events, 1)
	rec := sink.events[0].IngestRecord()
	assert.Equal(t, 1, rec.Type)
	assert.Equal(t, "7", rec.SessionID)
	assert.Equal(t, "01020304", rec.NodeID)
	require.NotNil(t, rec.CommonName)
	assert.Equal(t, "Eurasian Blackbird", *rec.CommonName)
	require.NotNil(t, rec.TimeStamp)
	assert.Equal(t, "2024-05-01T09:59:58Z", *rec.TimeStamp)

	require.Len(t, audit.entries, 1)
	e := audit.entries[0]
	assert.True(t, e.Forwarded)
	assert.Equal(t, "7", e.SessionID)
	assert.Equal(t, "dead", e.EncryptedFRM)
	assert.Equal(t, "aabbccdd", e.MIC)
	assert.Equal(t, "0ABC", e.DecryptedHex)
	assert.Empty(t, e.DecodeError)
}

func TestDispatchNoSessionStillPersists(t *testing.T) {
	audit := &memoryAudit{}
	sink := &fakeSink{name: "http"}

	d := New(okDecoder(), storage.StaticSession{}, audit, WithSinks(sink))
	d.Dispatch(context.Background(), testUplink())

	assert.Empty(t, sink.events)
	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].Forwarded)
	assert.Empty(t, audit.entries[0].SessionID)
}

func TestDispatchSessionErrorStillPersists(t *testing.T) {
	audit := &memoryAudit{}
	sink := &fakeSink{name: "http"}

	d := New(okDecoder(), failingSessions{}, audit, WithSinks(sink))
	d.Dispatch(context.Background(), testUplink())

	assert.Empty(t, sink.events)
	assert.Len(t, audit.entries, 1)
}

func TestDispatchDecodeErrorRetainsEvent(t *testing.T) {
	audit := &memoryAudit{}
	sink := &fakeSink{name: "http"}

	d := New(failDecoder(), storage.StaticSession{ID: "7"}, audit, WithSinks(sink))
	d.Dispatch(context.Background(), testUplink())

	require.Len(t, sink.events, 1)
	rec := sink.events[0].IngestRecord()
	assert.Nil(t, rec.CommonName)
	assert.Nil(t, rec.ConfidenceLevel)
	assert.Nil(t, rec.TimeStamp)

	require.Len(t, audit.entries, 1)
	e := audit.entries[0]
	assert.Equal(t, "unexpected header byte 0x00", e.DecodeError)
	assert.Equal(t, "0ABC", e.DecryptedHex)
	assert.Nil(t, e.TaxonomyCode)
}

func TestDispatchUnknownTaxonomyCode(t *testing.T) {
	audit := &memoryAudit{}

	d := New(okDecoder(), storage.StaticSession{}, audit)
	d.Dispatch(context.Background(), testUplink())

	require.Len(t, audit.entries, 1)
	require.NotNil(t, audit.entries[0].CommonName)
	assert.Equal(t, "<unknown 300>", *audit.entries[0].CommonName)
}

func TestDispatchSinkFailureStillPersists(t *testing.T) {
	audit := &memoryAudit{}
	failing := &fakeSink{name: "http", err: errors.New("timeout")}
	working := &fakeSink{name: "nats"}

	d := New(okDecoder(), storage.StaticSession{ID: "7"}, audit, WithSinks(failing, working))
	d.Dispatch(context.Background(), testUplink())

	assert.Len(t, failing.events, 1)
	assert.Len(t, working.events, 1)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].Forwarded)
}

func TestDispatchAllSinksFail(t *testing.T) {
	audit := &memoryAudit{}
	failing := &fakeSink{name: "http", err: errors.New("500")}

	d := New(okDecoder(), storage.StaticSession{ID: "7"}, audit, WithSinks(failing))
	d.Dispatch(context.Background(), testUplink())

	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].Forwarded)
}

func TestDispatchAuditFailureDoesNotPanic(t *testing.T) {
	audit := &memoryAudit{err: errors.New("disk full")}
	events := &memoryEvents{}

	d := New(nil, nil, audit, WithEventStore(events))
	d.Dispatch(context.Background(), testUplink())

	require.Len(t, events.entries, 1)
	assert.Equal(t, decoder.ErrNoDecoder.Error(), events.entries[0].DecodeError)
}
