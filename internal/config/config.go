/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL advertised to scan agents
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string

	// Oracle (detection model backend)
	OracleURL      string        // HTTP endpoint of the detection oracle; empty enables fallback mode
	OracleTimeout  time.Duration // Per-dispatch deadline toward the oracle
	OracleModelTag string        // Expected model identifier echoed in responses

	// Gateway limits
	MaxRedirects    int
	MaxVideoSizeMB  int
	MaxAudioSizeMB  int
	RequestTimeout  time.Duration
	RateLimitMax    int           // Per-caller requests per window
	RateLimitWindow time.Duration // Sliding window span

	// Scan agent limits
	GatewayURL          string // Where the agent sends analyze calls
	ClientRateLimitMax  int
	ClientRateWindow    time.Duration
	ScanQueueSize       int
	DedupCacheSize      int
	HistoryLimit        int
	NotifyPerMinute     int
	DiscoveryDebounce   time.Duration
	ConfidenceThreshold float64

	// Policy file (optional YAML overrides for host blocklists)
	PolicyFile string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis-backed rate limiting (optional; in-memory fallback when unset)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS report forwarding (optional; in-process fallback when unset)
	NATSURL string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("VERISCAN_ENV", "development"),
		HTTPBind:    getEnv("VERISCAN_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("VERISCAN_HTTP_PORT", 8080),
		BaseURL:     getEnv("VERISCAN_BASE_URL", ""),
		DBBackend:   DatabaseBackend(getEnv("VERISCAN_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("VERISCAN_DB_DSN", "veriscan.db"),

		JWTSigningKey: getEnv("VERISCAN_JWT_SIGNING_KEY", ""),

		OracleURL:      getEnv("VERISCAN_ORACLE_URL", ""),
		OracleTimeout:  getEnvDuration("VERISCAN_ORACLE_TIMEOUT", 30*time.Second),
		OracleModelTag: getEnv("VERISCAN_ORACLE_MODEL", "deepfake-o-meter-v2"),

		MaxRedirects:    getEnvInt("VERISCAN_MAX_REDIRECTS", 5),
		MaxVideoSizeMB:  getEnvInt("VERISCAN_MAX_VIDEO_SIZE_MB", 200),
		MaxAudioSizeMB:  getEnvInt("VERISCAN_MAX_AUDIO_SIZE_MB", 50),
		RequestTimeout:  getEnvDuration("VERISCAN_REQUEST_TIMEOUT", 10*time.Second),
		RateLimitMax:    getEnvInt("VERISCAN_RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow: getEnvDuration("VERISCAN_RATE_LIMIT_WINDOW", time.Minute),

		GatewayURL:          getEnv("VERISCAN_GATEWAY_URL", "http://localhost:8080"),
		ClientRateLimitMax:  getEnvInt("VERISCAN_CLIENT_RATE_LIMIT_REQUESTS", 10),
		ClientRateWindow:    getEnvDuration("VERISCAN_CLIENT_RATE_LIMIT_WINDOW", time.Minute),
		ScanQueueSize:       getEnvInt("VERISCAN_SCAN_QUEUE_SIZE", 50),
		DedupCacheSize:      getEnvInt("VERISCAN_DEDUP_CACHE_SIZE", 500),
		HistoryLimit:        getEnvInt("VERISCAN_HISTORY_LIMIT", 100),
		NotifyPerMinute:     getEnvInt("VERISCAN_NOTIFICATIONS_PER_MINUTE", 3),
		DiscoveryDebounce:   getEnvDuration("VERISCAN_DISCOVERY_DEBOUNCE", 250*time.Millisecond),
		ConfidenceThreshold: getEnvFloat("VERISCAN_CONFIDENCE_THRESHOLD", 0.70),

		PolicyFile: getEnv("VERISCAN_POLICY_FILE", ""),

		TracingEnabled:    getEnvBool("VERISCAN_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("VERISCAN_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("VERISCAN_TRACING_SAMPLE_RATE", 1.0),

		RedisAddr:     getEnv("VERISCAN_REDIS_ADDR", ""),
		RedisPassword: getEnv("VERISCAN_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("VERISCAN_REDIS_DB", 0),

		NATSURL: getEnv("VERISCAN_NATS_URL", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("VERISCAN_DB_DSN must be provided")
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("VERISCAN_CONFIDENCE_THRESHOLD must be in [0,1], got %v", cfg.ConfidenceThreshold)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.JWTSigningKey == "" {
			return nil, fmt.Errorf("VERISCAN_JWT_SIGNING_KEY must be provided in production")
		}
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"DEEPFAKE_THRESHOLD":  "use VERISCAN_CONFIDENCE_THRESHOLD",
		"RATE_LIMIT_REQUESTS": "use VERISCAN_RATE_LIMIT_REQUESTS",
		"RATE_LIMIT_WINDOW":   "use VERISCAN_RATE_LIMIT_WINDOW",
		"MAX_REDIRECTS":       "use VERISCAN_MAX_REDIRECTS",
		"MAX_FILE_SIZE_MB":    "use VERISCAN_MAX_VIDEO_SIZE_MB / VERISCAN_MAX_AUDIO_SIZE_MB",
		"REQUEST_TIMEOUT":     "use VERISCAN_REQUEST_TIMEOUT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxSizeBytes returns the payload ceiling in bytes for a media type.
// Unknown types get the stricter audio limit.
func (c *Config) MaxSizeBytes(mediaType string) int64 {
	if mediaType == "video" {
		return int64(c.MaxVideoSizeMB) << 20
	}
	return int64(c.MaxAudioSizeMB) << 20
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
