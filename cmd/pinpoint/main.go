package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/use-agent/pinpoint/api"
	"github.com/use-agent/pinpoint/catalog"
	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/drift"
	"github.com/use-agent/pinpoint/evolution"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/logring"
	"github.com/use-agent/pinpoint/registry"
	"github.com/use-agent/pinpoint/resolver"
	"github.com/use-agent/pinpoint/snapshot"
	"github.com/use-agent/pinpoint/telemetry"
	"github.com/use-agent/pinpoint/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	ring := initLogger(cfg.Log, cfg.Snapshot.LogLines)
	slog.Info("pinpoint starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"ledger", cfg.Ledger.Driver,
		"browser", cfg.Browser.Enabled,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── 3. Performance ledger ───────────────────────────────────────
	l, closeLedger, err := openLedger(cfg.Ledger)
	if err != nil {
		slog.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer closeLedger()
	go ledger.RunRetention(ctx, l, cfg.Ledger.Retention, cfg.Ledger.PruneInterval)

	// ── 4. Selector registry ────────────────────────────────────────
	reg := registry.New()
	if cfg.Catalog.Path != "" {
		n, err := catalog.Register(reg, cfg.Catalog.Path)
		if err != nil {
			slog.Warn("catalog loaded with errors", "path", cfg.Catalog.Path, "error", err)
		}
		slog.Info("catalog loaded", "path", cfg.Catalog.Path, "selectors", n)
	}

	// ── 5. Metrics ──────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(promReg)
	notifier := webhook.Notifier{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret}

	// ── 6. Browser (optional) ───────────────────────────────────────
	var browser *document.Browser
	if cfg.Browser.Enabled {
		browser, err = document.LaunchBrowser(cfg.Browser)
		if err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer browser.Close()
	}

	// ── 7. Resolver + snapshots ─────────────────────────────────────
	resolverOpts := []resolver.Option{resolver.WithMetrics(metrics)}
	var capturer *snapshot.Capturer
	if cfg.Snapshot.Enabled {
		capturer = snapshot.NewCapturer(cfg.Snapshot,
			snapshot.WithLogRing(ring),
			snapshot.WithMetrics(metrics),
			snapshot.WithCallback(notifier.SnapshotDone),
		)
		resolverOpts = append(resolverOpts, resolver.WithSnapshots(capturer))
	}
	res := resolver.New(reg, l, cfg.Resolver, resolverOpts...)

	// ── 8. Drift + evolution ────────────────────────────────────────
	detector := drift.NewDetector(l, cfg.Drift)
	manager := evolution.NewManager(reg, l, evolution.NewPolicy(cfg.Evolution), detector.Config(),
		evolution.WithMetrics(metrics),
		evolution.WithAppliedFunc(notifier.EvolutionApplied),
	)
	if cfg.Evolution.Enabled {
		go manager.Run(ctx, cfg.Evolution.Interval)
		slog.Info("periodic evolution enabled", "interval", cfg.Evolution.Interval)
	}

	// ── 9. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Services{
		Registry:  reg,
		Ledger:    l,
		Resolver:  res,
		Drift:     detector,
		Evolution: manager,
		Browser:   browser,
		Gatherer:  promReg,
	}, cfg, time.Now())

	// ── 10. Start HTTP server ───────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr, "selectors", reg.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 11. Graceful shutdown ───────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	stop()

	if capturer != nil {
		if err := capturer.Close(shutdownCtx); err != nil {
			slog.Warn("snapshot queue not drained", "error", err)
		}
	}

	// browser.Close() and the ledger close run via defer.
	slog.Info("pinpoint stopped")
}

// openLedger selects the ledger backend.
func openLedger(cfg config.LedgerConfig) (ledger.Ledger, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		return ledger.NewMemory(), func() {}, nil
	case "sqlite":
		s, err := ledger.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("ledger close failed", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// initLogger configures slog based on the LogConfig. Every record is also
// kept in a ring buffer so snapshots can include recent engine logs.
func initLogger(cfg config.LogConfig, ringSize int) *logring.Ring {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	ring := logring.NewRing(ringSize)
	slog.SetDefault(slog.New(logring.NewHandler(handler, ring)))
	return ring
}
