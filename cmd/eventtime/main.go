package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/tracing"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file (defaults are used if it does not exist)")
	logLevel   = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eventtime: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, reloader, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
	logger, err := initLogger(cfg, &level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting eventtime watermark engine",
		zap.String("application", cfg.Application.Name),
		zap.String("version", cfg.Version),
		zap.String("config", *configFile))

	if reloader != nil {
		reloader.OnReload(func(_, newConfig *config.Config) error {
			if *logLevel != "" {
				return nil
			}
			level.SetLevel(parseLevel(newConfig.Logging.Level))
			logger.Info("Log level changed", zap.String("level", newConfig.Logging.Level))
			return nil
		})
		reloader.Start()
		defer reloader.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.shutdownTracing()

	if err := app.engine.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	logger.Info("eventtime is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	if err := app.engine.Stop(); err != nil {
		logger.Error("Engine shutdown error", zap.Error(err))
		return err
	}
	return nil
}

// loadConfig loads and validates the configuration. An existing file is
// watched for log level changes.
func loadConfig(path string) (*config.Config, *config.ReloadableConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.LoadOrDefaultWithEnv(path)
		if err != nil {
			return nil, nil, err
		}
		if err := config.Validate(cfg); err != nil {
			return nil, nil, err
		}
		return cfg, nil, nil
	}

	reloader, err := config.NewReloadableConfig(path, nil)
	if err != nil {
		return nil, nil, err
	}
	return reloader.Get(), reloader, nil
}

func initLogger(cfg *config.Config, level *zap.AtomicLevel) (*zap.Logger, error) {
	return tracing.NewStructuredLogger(&tracing.StructuredLogConfig{
		AtomicLevel:      level,
		Format:           cfg.Logging.Format,
		Development:      cfg.Logging.Development,
		EnableStacktrace: cfg.Logging.Development,
		OutputPaths:      cfg.Logging.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]interface{}{
			"service":     cfg.Application.Name,
			"environment": cfg.Application.Environment,
		},
	})
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

const tracingShutdownTimeout = 5 * time.Second
