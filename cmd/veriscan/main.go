/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/veriscan/internal/agent"
	"github.com/friendsincode/veriscan/internal/config"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/logbuffer"
	"github.com/friendsincode/veriscan/internal/logging"
	"github.com/friendsincode/veriscan/internal/server"
	"github.com/friendsincode/veriscan/internal/state"
	"github.com/friendsincode/veriscan/internal/telemetry"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "veriscan",
	Short: "VeriScan - AI-generated media detection",
	Long:  "VeriScan detects AI-generated video and audio: a hardened analysis gateway plus a page-scanning agent that discovers media and raises threat alerts.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the VeriScan analysis gateway",
	Long:  "Start the HTTP gateway that fetches remote media through SSRF validation and queries the detection oracle",
	RunE:  runServe,
}

var (
	scanRender   bool
	scanFile     string
	scanToken    string
	scanWaitSecs int
)

var scanCmd = &cobra.Command{
	Use:   "scan [url]",
	Short: "Scan a page for AI-generated media",
	Long: `scan fetches a page, discovers its video and audio elements, and sends
each through the gateway's analyze endpoint. Results print as JSON.

Examples:
  veriscan scan https://news.example.com/story
  veriscan scan --render https://spa.example.com/feed
  veriscan scan --file saved-page.html https://news.example.com/story`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanRender, "render", false, "Render the page in headless Chrome before discovery")
	scanCmd.Flags().StringVar(&scanFile, "file", "", "Read page HTML from a file instead of fetching (use - for stdin)")
	scanCmd.Flags().StringVar(&scanToken, "token", "", "Bearer token for the gateway (default: VERISCAN_TOKEN)")
	scanCmd.Flags().IntVar(&scanWaitSecs, "wait", 30, "Seconds to wait for queued analyses to finish")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(logBuf *logbuffer.Buffer) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logBuf != nil {
		logger = logging.SetupWithWriter(cfg.Environment, logBuf)
	} else {
		logger = logging.Setup(cfg.Environment)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logBuf := logbuffer.New(1000)
	if err := loadConfig(logBuf); err != nil {
		return err
	}

	logger.Info().Msg("VeriScan gateway starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "veriscan-gateway",
		ServiceVersion: "0.0.1-alpha",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("VeriScan gateway stopped")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(nil); err != nil {
		return err
	}
	if scanFile == "" && len(args) == 0 {
		return fmt.Errorf("a page URL or --file is required")
	}

	pageURL := ""
	if len(args) > 0 {
		pageURL = args[0]
	}

	token := scanToken
	if token == "" {
		token = os.Getenv("VERISCAN_TOKEN")
	}

	source, cleanup, err := buildSource()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(cfg, source, token, events.NewBus(), logger)
	if err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	a.Start(ctx)
	defer a.Stop()

	target := pageURL
	if scanFile != "" {
		target = scanFile
	}
	summary, err := a.ScanPage(ctx, target)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Discovered %d media element(s), queued %d for analysis\n",
		summary.Discovered, summary.Queued)

	if summary.Queued > 0 {
		waitForAnalyses(ctx, a, int64(summary.Queued))
	}

	report, err := a.Report(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("collecting results: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func buildSource() (agent.PageSource, func(), error) {
	noop := func() {}
	if scanFile != "" {
		return agent.FileSource{}, noop, nil
	}
	if scanRender {
		rendered, err := agent.NewRenderedSource(30*time.Second, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("starting headless browser: %w", err)
		}
		return rendered, func() {
			if err := rendered.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing browser")
			}
		}, nil
	}
	return agent.NewHTTPSource(cfg.RequestTimeout), noop, nil
}

// waitForAnalyses polls the local scan counter until every queued item
// has a recorded outcome or the wait budget runs out. Failed analyses
// never increment the counter, so the deadline is the real backstop.
func waitForAnalyses(ctx context.Context, a *agent.Agent, queued int64) {
	deadline := time.Now().Add(time.Duration(scanWaitSecs) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
		done, err := a.Store().Counter(ctx, state.KeyScanCount)
		if err != nil {
			continue
		}
		if done >= queued {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "wait budget exhausted; some analyses may still be pending")
}
