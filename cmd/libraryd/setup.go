package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reflib/libraryd/internal/config"
	"github.com/reflib/libraryd/internal/storage"
)

// newLogger builds a console-encoded zap logger at the configured
// level, mirroring the level knob the teacher exposed through env vars
// without pulling in a dedicated logging config file.
func newLogger(level string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger.Sugar(), nil
}

// openEnv loads config, opens the store, and builds a logger: the
// three things every subcommand needs before it can do anything else.
func openEnv(ctx context.Context) (*config.Config, *storage.Store, *zap.SugaredLogger, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}

	log, err := newLogger(cfg.LogLevel())
	if err != nil {
		return nil, nil, nil, err
	}

	dbPath := flagDBPath
	if dbPath == "" {
		dbPath = cfg.DBPath()
	}
	store, err := storage.Open(ctx, dbPath, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage: %w", err)
	}
	return cfg, store, log, nil
}

// requireProject returns the --project flag value or an error, the
// guard every subcommand that touches project-scoped data runs first.
func requireProject() (int64, error) {
	if flagProjectID == 0 {
		return 0, fmt.Errorf("--project is required")
	}
	return flagProjectID, nil
}
