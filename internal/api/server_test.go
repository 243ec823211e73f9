package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/udp-ingest/internal/auth"
	"github.com/lorawan-server/udp-ingest/internal/config"
	"github.com/lorawan-server/udp-ingest/internal/models"
	"github.com/lorawan-server/udp-ingest/pkg/crypto"
)

type fakeAudit struct {
	entries []models.AuditEntry
	asked   int
}

func (f *fakeAudit) Recent(n int) ([]models.AuditEntry, error) {
	f.asked = n
	if n > 0 && len(f.entries) > n {
		return f.entries[len(f.entries)-n:], nil
	}
	return f.entries, nil
}

type fakeEvents struct {
	devAddr string
	limit   int
}

func (f *fakeEvents) ListUplinkEvents(_ context.Context, devAddr string, limit int) ([]*models.AuditEntry, error) {
	f.devAddr = devAddr
	f.limit = limit
	return []*models.AuditEntry{{DevAddr: "01020304", FCnt: 3}}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func do(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewRESTServer(config.APIConfig{}, &fakeAudit{}, WithPinger(fakePinger{}))
	rec := do(t, s.Handler(), "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	s = NewRESTServer(config.APIConfig{}, &fakeAudit{}, WithPinger(fakePinger{err: errors.New("dial tcp: refused")}))
	rec = do(t, s.Handler(), "GET", "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewRESTServer(config.APIConfig{}, &fakeAudit{})
	rec := do(t, s.Handler(), "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "udp_ingest_")
}

func TestAuditOpenWithoutSecret(t *testing.T) {
	audit := &fakeAudit{entries: []models.AuditEntry{{DevAddr: "01020304"}, {DevAddr: "26011BDA"}}}
	s := NewRESTServer(config.APIConfig{}, audit)

	rec := do(t, s.Handler(), "GET", "/api/audit?limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, audit.asked)

	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "26011BDA", resp.Entries[0].DevAddr)

	rec = do(t, s.Handler(), "GET", "/api/audit?limit=0", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenFlow(t *testing.T) {
	hash, err := crypto.HashPassword("s3cret")
	require.NoError(t, err)

	cfg := config.APIConfig{JWTSecret: "jwt-secret", AdminPasswordHash: hash, TokenTTL: time.Minute}
	s := NewRESTServer(cfg, &fakeAudit{})
	h := s.Handler()

	rec := do(t, h, "GET", "/api/audit", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "POST", "/api/token", `{"password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "POST", "/api/token", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/token", `{"password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, 60, tok.ExpiresIn)

	rec = do(t, h, "GET", "/api/audit", "", tok.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", "/api/audit", "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenDisabled(t *testing.T) {
	s := NewRESTServer(config.APIConfig{}, &fakeAudit{})
	rec := do(t, s.Handler(), "POST", "/api/token", `{"password":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents(t *testing.T) {
	s := NewRESTServer(config.APIConfig{}, &fakeAudit{})
	rec := do(t, s.Handler(), "GET", "/api/events", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	events := &fakeEvents{}
	s = NewRESTServer(config.APIConfig{}, &fakeAudit{}, WithEvents(events))

	rec = do(t, s.Handler(), "GET", "/api/events?devaddr=26011bda&limit=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "26011BDA", events.devAddr)
	assert.Equal(t, 10, events.limit)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, s.Handler(), "GET", "/api/events?devaddr=xyz", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddlewareExposesClaims(t *testing.T) {
	cfg := config.APIConfig{JWTSecret: "jwt-secret", TokenTTL: time.Minute}
	s := NewRESTServer(cfg, &fakeAudit{})

	token, err := s.auth.GenerateToken("admin", auth.ScopeRead)
	require.NoError(t, err)

	var subject string
	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = requester(r)
	}))

	rec := do(t, h, "GET", "/api/audit", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", subject)

	ingest, err := s.auth.GenerateToken("01020304", auth.ScopeIngest)
	require.NoError(t, err)
	subject = ""
	rec = do(t, h, "GET", "/api/audit", "", ingest)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, subject)

	open := NewRESTServer(config.APIConfig{}, &fakeAudit{})
	h = open.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = requester(r)
	}))
	do(t, h, "GET", "/api/audit", "", "")
	assert.Equal(t, "anonymous", subject)
}
