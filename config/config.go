package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Resolver  ResolverConfig
	Snapshot  SnapshotConfig
	Ledger    LedgerConfig
	Drift     DriftConfig
	Evolution EvolutionConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Catalog   CatalogConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser used for URL documents.
type BrowserConfig struct {
	// Enabled launches a browser at startup. Without one only inline HTML
	// documents can be resolved.
	Enabled bool // default: true

	// ControlURL connects to an already running browser instead of
	// launching one.
	ControlURL string

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s

	// ConsoleLimit is how many console lines a page keeps for snapshots.
	ConsoleLimit int // default: 200
}

// ResolverConfig controls selector resolution.
type ResolverConfig struct {
	// DefaultDeadline applies when the caller's context has no deadline.
	DefaultDeadline time.Duration // default: 5s

	// StrategyBudget caps one strategy attempt. It is also the latency
	// budget used by the stability score.
	StrategyBudget time.Duration // default: 200ms

	// StabilityWait is the maximum wait for a settled document before an
	// attempt. Zero disables it.
	StabilityWait time.Duration // default: 500ms

	// MaxConcurrency bounds batch resolution.
	MaxConcurrency int // default: 8

	// SignalWeight weighs the strategy's own match signal against rules.
	SignalWeight float64 // default: 1.0

	// AmbiguityPenalty lowers the signal per extra matching node.
	AmbiguityPenalty float64 // default: 0.25
}

// SnapshotConfig controls failure snapshot capture.
type SnapshotConfig struct {
	Enabled   bool          // default: true
	Root      string        // default: "./snapshots"
	QueueSize int           // default: 64
	Workers   int           // default: 2
	Budget    time.Duration // default: 10s
	Rate      float64       // captures per second; default: 2
	Burst     int           // default: 4
	LogLines  int           // recent engine log lines kept; default: 200
}

// LedgerConfig controls the performance ledger.
type LedgerConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string // default: "memory"

	// Path is the SQLite database file.
	Path string // default: "./pinpoint.db"

	// Retention is the maximum record age. Zero keeps everything.
	Retention time.Duration // default: 720h

	// PruneInterval is how often retention runs.
	PruneInterval time.Duration // default: 1h
}

// DriftConfig controls drift analysis.
type DriftConfig struct {
	// MinSamples below which a report is insufficient_data. Values below
	// 30 are raised to 30.
	MinSamples int // default: 30

	// SubWindows is the number of equal-count buckets compared.
	SubWindows int // default: 5

	// DeadBand is the slope magnitude still reported as stable.
	DeadBand float64 // default: 0.02

	// Window is the default analysis window.
	Window time.Duration // default: 168h
}

// EvolutionConfig holds the strategy evolution policy.
type EvolutionConfig struct {
	// Enabled runs the periodic evaluation loop.
	Enabled bool // default: false

	// Interval between periodic evaluations.
	Interval time.Duration // default: 1h

	MinSamples         int           // default: 30
	BlacklistFloor     float64       // default: 0.2
	DemoteFloor        float64       // default: 0.6
	PromoteSuccessRate float64       // default: 0.95
	PromoteMaxP95      time.Duration // default: 200ms
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 20

	// Burst is the maximum burst size per API key.
	Burst int // default: 40
}

// WebhookConfig controls event delivery for snapshots and evolution.
type WebhookConfig struct {
	// URL receives events. Empty disables delivery.
	URL    string
	Secret string
}

// CatalogConfig points at the selector catalog loaded at startup.
type CatalogConfig struct {
	// Path is a YAML file or a directory of YAML files. Empty skips loading.
	Path string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PINPOINT_HOST", "0.0.0.0"),
			Port: envIntOr("PINPOINT_PORT", 8080),
			Mode: envOr("PINPOINT_MODE", "release"),
		},
		Browser: BrowserConfig{
			Enabled:           envBoolOr("PINPOINT_BROWSER_ENABLED", true),
			ControlURL:        os.Getenv("PINPOINT_BROWSER_CONTROL_URL"),
			Headless:          envBoolOr("PINPOINT_HEADLESS", true),
			MaxPages:          envIntOr("PINPOINT_MAX_PAGES", 10),
			NoSandbox:         envBoolOr("PINPOINT_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("PINPOINT_BROWSER_BIN"),
			NavigationTimeout: envDurationOr("PINPOINT_NAV_TIMEOUT", 15*time.Second),
			ConsoleLimit:      envIntOr("PINPOINT_CONSOLE_LIMIT", 200),
		},
		Resolver: ResolverConfig{
			DefaultDeadline:  envDurationOr("PINPOINT_DEFAULT_DEADLINE", 5*time.Second),
			StrategyBudget:   envDurationOr("PINPOINT_STRATEGY_BUDGET", 200*time.Millisecond),
			StabilityWait:    envDurationOr("PINPOINT_STABILITY_WAIT", 500*time.Millisecond),
			MaxConcurrency:   envIntOr("PINPOINT_MAX_CONCURRENCY", 8),
			SignalWeight:     envFloatOr("PINPOINT_SIGNAL_WEIGHT", 1.0),
			AmbiguityPenalty: envFloatOr("PINPOINT_AMBIGUITY_PENALTY", 0.25),
		},
		Snapshot: SnapshotConfig{
			Enabled:   envBoolOr("PINPOINT_SNAPSHOT_ENABLED", true),
			Root:      envOr("PINPOINT_SNAPSHOT_ROOT", "./snapshots"),
			QueueSize: envIntOr("PINPOINT_SNAPSHOT_QUEUE", 64),
			Workers:   envIntOr("PINPOINT_SNAPSHOT_WORKERS", 2),
			Budget:    envDurationOr("PINPOINT_SNAPSHOT_BUDGET", 10*time.Second),
			Rate:      envFloatOr("PINPOINT_SNAPSHOT_RATE", 2),
			Burst:     envIntOr("PINPOINT_SNAPSHOT_BURST", 4),
			LogLines:  envIntOr("PINPOINT_SNAPSHOT_LOG_LINES", 200),
		},
		Ledger: LedgerConfig{
			Driver:        envOr("PINPOINT_LEDGER_DRIVER", "memory"),
			Path:          envOr("PINPOINT_LEDGER_PATH", "./pinpoint.db"),
			Retention:     envDurationOr("PINPOINT_LEDGER_RETENTION", 720*time.Hour),
			PruneInterval: envDurationOr("PINPOINT_LEDGER_PRUNE_INTERVAL", time.Hour),
		},
		Drift: DriftConfig{
			MinSamples: envIntOr("PINPOINT_DRIFT_MIN_SAMPLES", 30),
			SubWindows: envIntOr("PINPOINT_DRIFT_SUB_WINDOWS", 5),
			DeadBand:   envFloatOr("PINPOINT_DRIFT_DEAD_BAND", 0.02),
			Window:     envDurationOr("PINPOINT_DRIFT_WINDOW", 168*time.Hour),
		},
		Evolution: EvolutionConfig{
			Enabled:            envBoolOr("PINPOINT_EVOLUTION_ENABLED", false),
			Interval:           envDurationOr("PINPOINT_EVOLUTION_INTERVAL", time.Hour),
			MinSamples:         envIntOr("PINPOINT_EVOLUTION_MIN_SAMPLES", 30),
			BlacklistFloor:     envFloatOr("PINPOINT_EVOLUTION_BLACKLIST_FLOOR", 0.2),
			DemoteFloor:        envFloatOr("PINPOINT_EVOLUTION_DEMOTE_FLOOR", 0.6),
			PromoteSuccessRate: envFloatOr("PINPOINT_EVOLUTION_PROMOTE_RATE", 0.95),
			PromoteMaxP95:      envDurationOr("PINPOINT_EVOLUTION_PROMOTE_MAX_P95", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PINPOINT_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PINPOINT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PINPOINT_RATE_RPS", 20.0),
			Burst:             envIntOr("PINPOINT_RATE_BURST", 40),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("PINPOINT_WEBHOOK_URL"),
			Secret: os.Getenv("PINPOINT_WEBHOOK_SECRET"),
		},
		Catalog: CatalogConfig{
			Path: os.Getenv("PINPOINT_CATALOG"),
		},
		Log: LogConfig{
			Level:  envOr("PINPOINT_LOG_LEVEL", "info"),
			Format: envOr("PINPOINT_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
