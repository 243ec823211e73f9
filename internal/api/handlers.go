package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/auth"
)

const defaultListLimit = 50

// HandleHealth health check handler
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.db.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			s.respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleToken exchanges the admin password for a read token
func (s *RESTServer) HandleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || s.config.AdminPasswordHash == "" {
		s.respondError(w, http.StatusNotFound, "token issuance disabled")
		return
	}

	var req struct {
		Password string `json:"password" validate:"required,max=72"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.auth.VerifyPassword(req.Password, s.config.AdminPasswordHash) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected token request")
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.GenerateToken("admin", auth.ScopeRead)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate token")
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(s.config.TokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleListAudit returns the newest audit log entries
func (s *RESTServer) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.audit.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read audit log")
		s.respondError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}

	log.Debug().Str("subject", requester(r)).Int("limit", limit).Int("count", len(entries)).Msg("Audit log read")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleListEvents lists uplink events stored in the database
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusNotFound, "event store not configured")
		return
	}

	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	query := struct {
		DevAddr string `json:"devaddr" validate:"len=8,hex"`
	}{DevAddr: strings.ToUpper(r.URL.Query().Get("devaddr"))}

	if query.DevAddr != "" {
		if err := s.validator.Validate(&query); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	events, err := s.events.ListUplinkEvents(r.Context(), query.DevAddr, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list uplink events")
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	log.Debug().Str("subject", requester(r)).Str("devaddr", query.DevAddr).Int("count", len(events)).Msg("Uplink events read")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *RESTServer) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}

	query := struct {
		Limit int `json:"limit" validate:"min=1,max=1000"`
	}{}

	n, err := strconv.Atoi(raw)
	if err == nil {
		query.Limit = n
		err = s.validator.Validate(&query)
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}

	return query.Limit, true
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
