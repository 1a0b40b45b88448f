package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/harvest/internal/config"
	"github.com/me/harvest/internal/logging"
	"github.com/me/harvest/internal/metrics"
	"github.com/me/harvest/internal/plugin"
	"github.com/me/harvest/internal/scheduler"
	"github.com/me/harvest/internal/server"
	"github.com/me/harvest/internal/store"
	"github.com/me/harvest/internal/sysinfo"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.harvest/harvest.db)")
	flag.StringVar(&cfg.PluginDir, "plugin-dir", cfg.PluginDir, "Directory of plugin manifests")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	interval := flag.Duration("interval", 0, "Run a collection pass every interval (0 disables)")

	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".harvest")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "harvest.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	m := metrics.New()

	sched := scheduler.New(st, logger, scheduler.WithMetrics(m))
	defer sched.Close()

	// Load plugins from the manifest directory.
	pm := plugin.NewManager(sched, sysinfo.Builtins(), logger)
	if cfg.PluginDir != "" {
		if err := pm.LoadDir(cfg.PluginDir); err != nil {
			fmt.Fprintf(os.Stderr, "load plugins from %s: %v\n", cfg.PluginDir, err)
			os.Exit(1)
		}
	}
	logger.Info("plugins loaded", "plugins", pm.Plugins(), "collectors", len(sched.Collectors()))

	srv := server.New(st, sched, logger,
		server.WithPluginManager(pm),
		server.WithMetrics(m),
	)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional periodic collection loop.
	if *interval > 0 {
		go func() {
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := sched.Schedule(ctx); err != nil {
						logger.Error("collection pass failed", "error", err)
					}
				}
			}
		}()
		logger.Info("periodic collection enabled", "interval", interval.String())
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
