/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/veriscan/internal/api"
	"github.com/friendsincode/veriscan/internal/config"
	"github.com/friendsincode/veriscan/internal/db"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/gateway"
	"github.com/friendsincode/veriscan/internal/logbuffer"
	"github.com/friendsincode/veriscan/internal/ratelimit"
	"github.com/friendsincode/veriscan/internal/reports"
	"github.com/friendsincode/veriscan/internal/state"
	"github.com/friendsincode/veriscan/internal/telemetry"
)

// Server bundles the HTTP gateway and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	logBuffer  *logbuffer.Buffer
	api        *api.API
	gatewaySvc *gateway.Service
	reportSvc  *reports.Service
	store      *state.Store
	bus        *events.Bus

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("veriscan-gateway"))
	router.Use(telemetry.MetricsMiddleware)
	// WebSocket upgrades manage their own lifetimes; everything else gets
	// a hard request deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.store = state.New(state.NewGormKV(database), s.bus, s.cfg.HistoryLimit, s.logger)

	policy, err := config.LoadPolicy(s.cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("loading policy file: %w", err)
	}

	var limiter ratelimit.Limiter
	if s.cfg.RedisAddr != "" {
		redisLimiter := ratelimit.NewRedisLimiter(
			s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB,
			s.cfg.RateLimitMax, s.cfg.RateLimitWindow, s.logger,
		)
		s.DeferClose(redisLimiter.Close)
		limiter = redisLimiter
	} else {
		limiter = ratelimit.NewMemoryLimiter(s.cfg.RateLimitMax, s.cfg.RateLimitWindow)
	}

	validator := gateway.NewValidator(*policy)
	fetcher := gateway.NewFetcher(validator, s.cfg.RequestTimeout, s.cfg.MaxRedirects)

	var oracle gateway.Oracle
	if s.cfg.OracleURL != "" {
		oracle = &gateway.OracleWithFallback{
			Primary:  gateway.NewHTTPOracle(s.cfg.OracleURL, s.cfg.OracleModelTag, s.cfg.OracleTimeout, s.logger),
			Fallback: gateway.FallbackOracle{},
			Logger:   s.logger,
		}
	} else {
		s.logger.Warn().Msg("no oracle configured, all detections will use the fallback")
		oracle = gateway.FallbackOracle{}
	}

	s.gatewaySvc = gateway.NewService(s.cfg, validator, fetcher, oracle, limiter, s.bus, s.logger)

	s.reportSvc = reports.New(database, s.cfg.NATSURL, s.bus, s.logger)
	s.DeferClose(s.reportSvc.Close)

	s.api = api.New(database, s.cfg, s.gatewaySvc, s.reportSvc, s.store, s.bus, s.logBuffer, s.logger)
	return nil
}

// HTTPServer exposes the configured server for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runAuditLogger(ctx)
	}()
}

// runAuditLogger writes audit events into the structured log so admin
// actions leave a trace even without an external sink.
func (s *Server) runAuditLogger(ctx context.Context) {
	auditTypes := []events.EventType{
		events.EventAuditAPIKeyCreate,
		events.EventAuditAPIKeyRevoke,
		events.EventAuditCounterReset,
	}
	subs := make([]events.Subscriber, len(auditTypes))
	for i, typ := range auditTypes {
		subs[i] = s.bus.Subscribe(typ)
	}
	defer func() {
		for i, typ := range auditTypes {
			s.bus.Unsubscribe(typ, subs[i])
		}
	}()

	for {
		idle := true
		for i, sub := range subs {
			select {
			case payload, ok := <-sub:
				if !ok {
					return
				}
				s.logger.Info().
					Str("component", "audit").
					Str("event", string(auditTypes[i])).
					Interface("payload", payload).
					Msg("audit event")
				idle = false
			default:
			}
		}
		if idle {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
