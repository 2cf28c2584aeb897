package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/model"
	"github.com/sells-group/audience-engine/internal/store"
)

const (
	defaultCohortLimit = 10
)

type ingestRequest struct {
	Data []json.RawMessage `json:"data"`
}

type ingestResponse struct {
	Status           string   `json:"status"`
	RecordsProcessed int      `json:"records_processed"`
	Errors           []string `json:"errors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest validates the batch, durably logs the raw records and queues
// one resolution task per record. The acknowledgment never waits for
// resolution or classification.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{
			Status: "failure",
			Errors: []string{"invalid request body"},
		})
		return
	}
	if len(req.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, ingestResponse{
			Status: "failure",
			Errors: []string{"data must be a non-empty array"},
		})
		return
	}

	var records []model.IngestRecord
	var errs []string
	for i, raw := range req.Data {
		var rec model.IngestRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, fmt.Sprintf("record %d: not an object", i))
			continue
		}
		if rec.Email != "" {
			if _, err := mail.ParseAddress(rec.Email); err != nil {
				errs = append(errs, fmt.Sprintf("record %d: invalid email", i))
				continue
			}
		}
		records = append(records, rec)
	}
	if errs == nil {
		errs = []string{}
	}

	if len(records) > 0 {
		if err := s.store.LogRawRecords(r.Context(), records); err != nil {
			zap.L().Error("api: raw record log failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ingestResponse{
				Status: "failure",
				Errors: append(errs, "raw record storage unavailable"),
			})
			return
		}
	}

	for _, rec := range records {
		rec := rec
		s.pool.Submit(func(ctx context.Context) {
			if _, err := s.resolver.Resolve(ctx, rec); err != nil {
				zap.L().Error("api: background resolution failed", zap.Error(err))
			}
		})
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:           "success",
		RecordsProcessed: len(records),
		Errors:           errs,
	})
}

// handleGetUser looks up the first identity matching the given email or
// cookie.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	cookie := r.URL.Query().Get("cookie")
	if email == "" && cookie == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email or cookie is required",
		})
		return
	}

	matches, err := s.store.FindIdentities(r.Context(), store.IdentityFilter{
		Email:  email,
		Cookie: cookie,
	})
	if err != nil {
		zap.L().Error("api: user lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "lookup failed",
		})
		return
	}
	if len(matches) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "user not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user_profile": matches[0]})
}

// handleCohortUsers lists projection members for one cohort, highest scores
// first.
func (s *Server) handleCohortUsers(w http.ResponseWriter, r *http.Request) {
	cohort := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("cohort")))
	if cohort == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "cohort is required",
		})
		return
	}

	limit := queryInt(r, "limit", defaultCohortLimit)
	if limit < 1 {
		limit = defaultCohortLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	members, err := s.store.ListCohortMembers(r.Context(), cohort, limit, offset)
	if err != nil {
		zap.L().Error("api: cohort listing failed", zap.String("cohort", cohort), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "cohort lookup failed",
		})
		return
	}
	if members == nil {
		members = []model.CohortMember{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cohort": cohort,
		"users":  members,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
