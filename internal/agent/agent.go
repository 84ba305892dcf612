/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package agent assembles the client-side scan pipeline: a page source
// feeds discovery, discovered media flows through dedup and the bounded
// scan queue into the gateway's analyze endpoint, and verdicts land in
// the local state store and notification service.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/analysis"
	"github.com/friendsincode/veriscan/internal/config"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/notifications"
	"github.com/friendsincode/veriscan/internal/scanner"
	"github.com/friendsincode/veriscan/internal/state"
)

// Summary is the outcome of scanning one page.
type Summary struct {
	PageURL    string               `json:"page_url"`
	Discovered int                  `json:"discovered"`
	Queued     int                  `json:"queued"`
	Duplicates int                  `json:"duplicates"`
	Skipped    int                  `json:"skipped"`
	Dropped    int                  `json:"dropped"`
	ScanCount  int64                `json:"scan_count"`
	Threats    []state.ThreatRecord `json:"threats"`
}

// Agent owns the scan pipeline for one process.
type Agent struct {
	cfg       *config.Config
	source    PageSource
	client    *analysis.Client
	store     *state.Store
	scheduler *scanner.Scheduler
	notifySvc *notifications.Service
	debouncer *scanner.Debouncer
	bus       *events.Bus
	logger    zerolog.Logger

	mu          sync.Mutex
	pendingPage string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the agent from config. The gateway client inherits the
// policy's host blocklist so obviously bad URLs never leave the process.
func New(cfg *config.Config, source PageSource, authToken string, bus *events.Bus, logger zerolog.Logger) (*Agent, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway URL must be configured")
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	opts := []analysis.Option{
		analysis.WithTimeout(cfg.RequestTimeout),
		analysis.WithRateLimit(cfg.ClientRateLimitMax, cfg.ClientRateWindow),
	}
	if authToken != "" {
		opts = append(opts, analysis.WithAuthToken(authToken))
	}
	if len(policy.BlockedHosts) > 0 {
		opts = append(opts, analysis.WithBlockedHosts(policy.BlockedHosts))
	}
	client := analysis.New(cfg.GatewayURL, logger, opts...)

	store := state.New(state.NewMemoryKV(), bus, cfg.HistoryLimit, logger)
	dedup := scanner.NewDedupCache(cfg.DedupCacheSize)
	scheduler := scanner.NewScheduler(client, store, dedup, bus, cfg.ScanQueueSize, cfg.ConfidenceThreshold, logger)
	notifySvc := notifications.New(bus, &notifications.LogNotifier{Logger: logger}, cfg.NotifyPerMinute, logger)

	a := &Agent{
		cfg:       cfg,
		source:    source,
		client:    client,
		store:     store,
		scheduler: scheduler,
		notifySvc: notifySvc,
		bus:       bus,
		logger:    logger.With().Str("component", "agent").Logger(),
	}
	return a, nil
}

// Start launches the scheduler and notification consumers. Callers must
// pair it with Stop.
func (a *Agent) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.scheduler.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.notifySvc.Run(runCtx)
	}()

	// Re-discovery after DOM mutation bursts goes through the debouncer
	// so a churning page triggers one rescan, not hundreds.
	a.debouncer = scanner.NewDebouncer(a.cfg.DiscoveryDebounce, a.rescanPending)
}

// Stop cancels the consumers and waits for them to drain.
func (a *Agent) Stop() {
	if a.debouncer != nil {
		a.debouncer.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// SetEnabled toggles protection on the scheduler and persists the choice.
func (a *Agent) SetEnabled(ctx context.Context, enabled bool) error {
	a.scheduler.SetEnabled(enabled)
	return a.store.SetEnabled(ctx, enabled)
}

// Store exposes the agent's local state for status rendering.
func (a *Agent) Store() *state.Store {
	return a.store
}

// ScanPage fetches a page through the configured source and scans its
// media. Discovery results are enqueued immediately; the returned
// summary reflects queue admission, not completed verdicts.
func (a *Agent) ScanPage(ctx context.Context, pageURL string) (*Summary, error) {
	html, err := a.source.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	return a.ScanHTML(ctx, html, pageURL)
}

// ScanHTML runs discovery over already-fetched HTML.
func (a *Agent) ScanHTML(ctx context.Context, html, pageURL string) (*Summary, error) {
	items, err := scanner.Discover(strings.NewReader(html), pageURL)
	if err != nil {
		return nil, fmt.Errorf("discovering media: %w", err)
	}

	summary := &Summary{PageURL: pageURL, Discovered: len(items)}
	for _, item := range items {
		switch a.scheduler.Enqueue(item) {
		case scanner.StatePending:
			summary.Queued++
		case scanner.StateDuplicate:
			summary.Duplicates++
		case scanner.StateSkipped:
			summary.Skipped++
		default:
			summary.Dropped++
		}
	}

	a.mu.Lock()
	a.pendingPage = pageURL
	a.mu.Unlock()

	a.logger.Info().
		Str("page", pageURL).
		Int("discovered", summary.Discovered).
		Int("queued", summary.Queued).
		Int("duplicates", summary.Duplicates).
		Msg("page scanned")
	return summary, nil
}

// NotifyMutation signals that the current page's DOM changed. The actual
// rescan fires once the mutation burst settles.
func (a *Agent) NotifyMutation() {
	if a.debouncer != nil {
		a.debouncer.Trigger()
	}
}

func (a *Agent) rescanPending() {
	a.mu.Lock()
	pageURL := a.pendingPage
	a.mu.Unlock()
	if pageURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	if _, err := a.ScanPage(ctx, pageURL); err != nil {
		a.logger.Warn().Err(err).Str("page", pageURL).Msg("debounced rescan failed")
	}
}

// Report renders the current counters and threat log into a summary.
func (a *Agent) Report(ctx context.Context, pageURL string) (*Summary, error) {
	scans, err := a.store.Counter(ctx, state.KeyScanCount)
	if err != nil {
		return nil, err
	}
	threats, err := a.store.ThreatLog(ctx)
	if err != nil {
		return nil, err
	}
	return &Summary{PageURL: pageURL, ScanCount: scans, Threats: threats}, nil
}
