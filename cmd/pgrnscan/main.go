package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/dshills/pgrnscan/internal/am"
	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/mcp"
	"github.com/dshills/pgrnscan/internal/metrics"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to pgrnscan.yaml")
	showVersion := pflag.Bool("version", false, "print version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("pgrnscan MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", engine.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", engine.DriverName)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pgrnscan: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr or log.path; stdout is reserved for MCP protocol.
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	logger.Info().
		Str("version", version).
		Str("build_mode", engine.BuildMode).
		Str("driver", engine.DriverName).
		Str("path", cfg.Engine.Path).
		Msg("pgrnscan starting")

	m := metrics.New()
	e := engine.New(*cfg, engine.WithLogger(logger), engine.WithMetrics(m))
	defer func() {
		if err := e.Finalize(); err != nil {
			logger.Warn().Err(err).Msg("failed to finalize engine")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := e.EnsureDatabase(ctx); err != nil {
		return err
	}

	a := am.New(e, host.NewMemoryHeap(), host.NewMemoryCatalog(), am.WithBuildWorkers(cfg.Build.Workers))
	server, err := mcp.NewServer(a)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, m, logger)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Stringer("signal", sig).Msg("shutting down")
		cancel()
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
	return srv
}
