package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/udp-ingest/internal/auth"
	"github.com/lorawan-server/udp-ingest/internal/models"
)

func testEvent() *models.DecodedEvent {
	ts := time.Date(2024, 5, 1, 9, 59, 58, 0, time.UTC)
	name := "Eurasian Blackbird"
	code, conf := 300, 2

	return &models.DecodedEvent{
		Uplink: &models.Uplink{
			ID:         uuid.New(),
			ReceivedAt: time.Now(),
			GatewayID:  "0102030405060708",
			DevAddr:    "01020304",
			FCnt:       12,
			Decrypted:  []byte{0x65, 0x00},
		},
		EventTime:     &ts,
		TaxonomyCode:  &code,
		CommonName:    &name,
		ConfidenceBin: &conf,
		SessionID:     "7",
	}
}

func TestHTTPSinkPostsIngestRecord(t *testing.T) {
	var body map[string]interface{}
	var header http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, time.Second, WithHeaders(map[string]string{"X-Source": "gw-1"}))
	require.NoError(t, sink.Send(context.Background(), testEvent()))

	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "gw-1", header.Get("X-Source"))
	assert.Empty(t, header.Get("Authorization"))

	assert.Equal(t, float64(1), body["type"])
	assert.Equal(t, "7", body["session_id"])
	assert.Equal(t, "01020304", body["node_id"])
	assert.Equal(t, "Eurasian Blackbird", body["common_name"])
	assert.Equal(t, float64(2), body["confidence_level"])
	assert.Equal(t, "2024-05-01T09:59:58Z", body["time_stamp"])
}

func TestHTTPSinkNullFieldsOnDecodeError(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		raw = string(data)
	}))
	defer srv.Close()

	ev := &models.DecodedEvent{
		Uplink:      &models.Uplink{DevAddr: "01020304"},
		DecodeError: "boom",
		SessionID:   "7",
	}
	require.NoError(t, NewHTTPSink(srv.URL, 0).Send(context.Background(), ev))

	assert.JSONEq(t, `{"type":1,"session_id":"7","node_id":"01020304","common_name":null,"confidence_level":null,"time_stamp":null}`, raw)
}

func TestHTTPSinkBearerToken(t *testing.T) {
	tokens := auth.NewJWTManager("secret", "", time.Minute)

	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPSink(srv.URL, time.Second, WithTokens(tokens)).Send(context.Background(), testEvent()))

	require.True(t, strings.HasPrefix(authz, "Bearer "))
	claims, err := tokens.ValidateToken(strings.TrimPrefix(authz, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, auth.ScopeIngest, claims.Scope)
	assert.Equal(t, "01020304", claims.Subject)
}

func TestHTTPSinkNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Missing required ingestion fields", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, time.Second).Send(context.Background(), testEvent())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPSinkTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPSink(srv.URL, 100*time.Millisecond).Send(context.Background(), testEvent())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type fakeNATS struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestNATSSink(t *testing.T) {
	pub := &fakeNATS{}
	sink := NewNATSSink(pub, "")

	require.NoError(t, sink.Send(context.Background(), testEvent()))
	assert.Equal(t, "ingest.01020304.event", pub.subject)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.data, &msg))
	assert.Equal(t, "01020304", msg["node_id"])
	assert.Equal(t, "0102030405060708", msg["gateway_id"])
	assert.Equal(t, "6500", msg["decrypted_hex"])
	assert.Equal(t, float64(300), msg["taxonomy_code"])

	pub.err = errors.New("nats: connection closed")
	assert.Error(t, sink.Send(context.Background(), testEvent()))
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type fakeMQTT struct {
	mu      sync.Mutex
	topic   string
	qos     byte
	payload []byte
	err     error
	hang    bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.qos = qos
	f.payload = payload.([]byte)

	tok := &fakeToken{done: make(chan struct{}), err: f.err}
	if !f.hang {
		close(tok.done)
	}
	return tok
}

func TestMQTTSink(t *testing.T) {
	client := &fakeMQTT{}
	sink := NewMQTTSink(client, "birds/{gateway_id}/{dev_addr}", 1)

	require.NoError(t, sink.Send(context.Background(), testEvent()))
	assert.Equal(t, "birds/0102030405060708/01020304", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.Contains(t, string(client.payload), `"session_id":"7"`)
}

func TestMQTTSinkErrors(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	sink := NewMQTTSink(client, "", 0)
	assert.Error(t, sink.Send(context.Background(), testEvent()))

	client = &fakeMQTT{hang: true}
	sink = NewMQTTSink(client, "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Send(ctx, testEvent()), context.DeadlineExceeded)
}

func TestSinkNames(t *testing.T) {
	for name, s := range map[string]Sink{
		"http": NewHTTPSink("http://localhost", 0),
		"nats": NewNATSSink(&fakeNATS{}, "x"),
		"mqtt": NewMQTTSink(&fakeMQTT{}, "", 0),
	} {
		assert.Equal(t, name, s.Name())
	}
}
