package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/paceprint/paceprint/pkg/activities"
	"github.com/paceprint/paceprint/pkg/orchestrator"
)

type server struct {
	svc    *activities.Service
	logger zerolog.Logger
}

func newServer(svc *activities.Service, logger zerolog.Logger) *server {
	return &server{svc: svc, logger: logger}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/batch-fetch", s.handleBatchFetch)
	mux.HandleFunc("GET /api/activities/{id}", s.handleGetActivity)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("GET /api/cache/activities", s.handleCacheActivities)
	mux.HandleFunc("DELETE /api/cache", s.handleClearCache)
	mux.HandleFunc("DELETE /api/cache/old", s.handleClearOldCache)
	mux.HandleFunc("GET /api/rate-limit", s.handleRateLimit)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// batchFetchRequest is the POST /api/batch-fetch body.
type batchFetchRequest struct {
	AthleteID     int64   `json:"athlete_id"`
	ActivityIDs   []int64 `json:"activity_ids"`
	ForceRefresh  bool    `json:"force_refresh"`
	MaxConcurrent int     `json:"max_concurrent"`
}

func (s *server) handleBatchFetch(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req batchFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.svc.BatchFetch(r.Context(), token, req.AthleteID, req.ActivityIDs, orchestrator.Options{
		ForceRefresh:  req.ForceRefresh,
		MaxConcurrent: req.MaxConcurrent,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Partial batches (quota cutoff) are still a successful response.
	s.writeJSON(w, http.StatusOK, result)
}

func (s *server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	activityID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || activityID <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	athleteID, err := strconv.ParseInt(r.URL.Query().Get("athlete_id"), 10, 64)
	if err != nil || athleteID <= 0 {
		s.writeError(w, http.StatusBadRequest, "athlete_id query parameter is required")
		return
	}

	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	activity, err := s.svc.GetComprehensiveActivity(r.Context(), token, athleteID, activityID, forceRefresh)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, activity)
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetCacheStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleCacheActivities(w http.ResponseWriter, r *http.Request) {
	// athlete_id is optional here; 0 lists ids across all athletes.
	var athleteID int64
	if raw := r.URL.Query().Get("athlete_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid athlete_id")
			return
		}
		athleteID = parsed
	}

	ids, err := s.svc.ListCachedActivityIDs(r.Context(), athleteID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"activity_ids": ids,
		"count":        len(ids),
	})
}

func (s *server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ClearAllCache(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *server) handleClearOldCache(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 {
		s.writeError(w, http.StatusBadRequest, "days query parameter must be a positive integer")
		return
	}

	n, err := s.svc.ClearOldCache(r.Context(), days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": n, "days": days})
}

func (s *server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	info := s.svc.GetRateLimitInfo()
	now := time.Now()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":                     info,
		"near_limit":                s.svc.IsNearRateLimit(),
		"short_window_usage_pct":    info.ShortUsagePct(),
		"daily_usage_pct":           info.DailyUsagePct(),
		"seconds_until_short_reset": int(info.TimeUntilShortReset(now).Seconds()),
		"seconds_until_daily_reset": int(info.TimeUntilDailyReset(now).Seconds()),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// bearerToken extracts the Strava access token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
