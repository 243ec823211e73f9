package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lorawan-server/udp-ingest/internal/auth"
	"github.com/lorawan-server/udp-ingest/internal/models"
)

// DefaultHTTPTimeout bounds each ingest request.
const DefaultHTTPTimeout = 5 * time.Second

// HTTPSink posts ingest records as JSON.
type HTTPSink struct {
	url        string
	httpClient *http.Client
	tokens     *auth.JWTManager
	headers    map[string]string
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithTokens signs every request with a short-lived bearer token.
func WithTokens(m *auth.JWTManager) HTTPOption {
	return func(s *HTTPSink) {
		s.tokens = m
	}
}

// WithHeaders adds static request headers.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(s *HTTPSink) {
		for k, v := range headers {
			s.headers[k] = v
		}
	}
}

// NewHTTPSink creates an HTTP sink. A non-positive timeout uses
// DefaultHTTPTimeout.
func NewHTTPSink(url string, timeout time.Duration, opts ...HTTPOption) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	s := &HTTPSink{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name implements Sink.
func (s *HTTPSink) Name() string {
	return "http"
}

// Send implements Sink.
func (s *HTTPSink) Send(ctx context.Context, ev *models.DecodedEvent) error {
	jsonData, err := json.Marshal(ev.IngestRecord())
	if err != nil {
		return fmt.Errorf("marshal ingest record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	if s.tokens != nil {
		token, err := s.tokens.GenerateToken(ev.Uplink.DevAddr, auth.ScopeIngest)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post ingest record: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return nil
}
