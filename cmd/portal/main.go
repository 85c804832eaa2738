// BNR portal: session and access-control service for the banking portal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/config"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/server"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  string
		writeConfig string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("BNR_CONFIG"), "Path to a JSON or YAML config file.")
	flag.StringVar(&writeConfig, "write-config", "", "Write the effective configuration to this path and exit.")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit.")
	flag.Parse()

	if showVersion {
		fmt.Printf("bnr-portal %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if writeConfig != "" {
		if err := cfg.Save(writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("configuration written to %s\n", writeConfig)
		return
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	server.Version, server.Commit, server.Date = version, commit, date

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	shutdownTracer, err := telemetry.InitTraceProvider(ctx, endpoint, version)
	if err != nil {
		logger.Warn("failed to initialise tracing, continuing without traces", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				logger.Warn("failed to shut down tracer", zap.Error(err))
			}
		}()
		if endpoint != "" {
			logger.Info("tracing enabled", zap.String("endpoint", endpoint))
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
