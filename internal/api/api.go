/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/veriscan/internal/auth"
	"github.com/friendsincode/veriscan/internal/config"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/gateway"
	"github.com/friendsincode/veriscan/internal/logbuffer"
	"github.com/friendsincode/veriscan/internal/reports"
	"github.com/friendsincode/veriscan/internal/state"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	cfg       *config.Config
	jwtSecret []byte
	gateway   *gateway.Service
	reports   *reports.Service
	store     *state.Store
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
	startedAt time.Time
}

// New creates the API router wrapper.
func New(db *gorm.DB, cfg *config.Config, gatewaySvc *gateway.Service, reportSvc *reports.Service, store *state.Store, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		cfg:       cfg,
		jwtSecret: []byte(cfg.JWTSigningKey),
		gateway:   gatewaySvc,
		reports:   reportSvc,
		store:     store,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Routes mounts all API endpoints.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Post("/analyze", a.handleAnalyze)
			pr.Get("/status", a.handleStatus)
			pr.Post("/report", a.handleReportSubmit)
			pr.Get("/reports", a.handleReportsList)
			pr.Get("/logs", a.handleLogs)
			pr.Get("/events", a.handleEvents)

			pr.Route("/apikeys", func(r chi.Router) {
				r.Use(a.requireScope("admin"))
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Delete("/{keyID}", a.handleAPIKeysRevoke)
			})

			pr.With(a.requireScope("admin")).Post("/state/reset", a.handleStateReset)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !claims.HasScope(scope) {
				writeError(w, http.StatusForbidden, "insufficient_scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type analyzeRequest struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	// URLOrPath is the legacy field name. Local paths are refused
	// downstream; only the URL interpretation survives.
	URLOrPath string `json:"url_or_path"`
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {}, ".webm": {},
}

// inferMediaType guesses video/audio from the URL's file extension for
// legacy requests that omit media_type.
func inferMediaType(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if _, ok := videoExtensions[strings.ToLower(path.Ext(trimmed))]; ok {
		return "video"
	}
	return "audio"
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.URL == "" {
		req.URL = req.URLOrPath
	}
	if req.MediaType == "" {
		req.MediaType = inferMediaType(req.URL)
	}

	callerID := "anonymous"
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		callerID = claims.CallerID
	}

	det, err := a.gateway.Analyze(r.Context(), callerID, req.URL, req.MediaType)
	if err != nil {
		a.writeAnalyzeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// writeAnalyzeError maps pipeline errors onto the HTTP contract.
func (a *API) writeAnalyzeError(w http.ResponseWriter, err error) {
	var invalid *gateway.InvalidInputError
	var blocked *gateway.BlockedError
	var limited *gateway.RateLimitedError
	var fetchErr *gateway.FetchError

	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": invalid.Reason})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": blocked.Reason})
	case errors.As(err, &limited):
		seconds := int(limited.RetryAfter.Seconds() + 0.999)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "rate_limited",
			"retry_after": seconds,
		})
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, "media_fetch_failed")
	default:
		a.logger.Error().Err(err).Msg("analyze failed")
		writeError(w, http.StatusServiceUnavailable, "analysis_unavailable")
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := a.gateway.Stats()
	scanCount, _ := a.store.Counter(r.Context(), state.KeyScanCount)
	threats, _ := a.store.Counter(r.Context(), state.KeyThreatsDetected)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"started_at": a.startedAt,
		"uptime_s":   int(time.Since(a.startedAt).Seconds()),
		"stats": map[string]any{
			"requests":     stats.Requests,
			"threats":      stats.Threats,
			"rate_limited": stats.RateLimited,
			"blocked":      stats.Blocked,
			"scan_count":   scanCount,
			"threat_count": threats,
		},
		"config": map[string]any{
			"confidence_threshold": a.cfg.ConfidenceThreshold,
			"max_redirects":        a.cfg.MaxRedirects,
			"max_video_size_mb":    a.cfg.MaxVideoSizeMB,
			"max_audio_size_mb":    a.cfg.MaxAudioSizeMB,
			"rate_limit_max":       a.cfg.RateLimitMax,
			"rate_limit_window_s":  int(a.cfg.RateLimitWindow.Seconds()),
			"model":                a.cfg.OracleModelTag,
		},
	})
}

type reportRequest struct {
	PageURL    string    `json:"page_url"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

func (a *API) handleReportSubmit(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.PageURL == "" {
		writeError(w, http.StatusBadRequest, "page_url_required")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "confidence_out_of_range")
		return
	}

	callerID := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		callerID = claims.CallerID
	}

	report, err := a.reports.Submit(r.Context(), reports.Submission{
		PageURL:    req.PageURL,
		Confidence: req.Confidence,
		CallerID:   callerID,
		ReportedAt: req.Timestamp,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("persisting report")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (a *API) handleReportsList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := a.reports.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries := a.logBuffer.Query(logbuffer.QueryParams{
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		Limit:     limit,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleStateReset(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reset_failed")
		return
	}
	a.bus.Publish(events.EventAuditCounterReset, events.Payload{"at": time.Now()})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
