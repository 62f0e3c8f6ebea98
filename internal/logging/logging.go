// Package logging builds the structured logger threaded through every
// component, the way mooyang-code-data-collector wires go.uber.org/zap from
// its own LoggingConfig.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gappylul/eirenewatch/internal/config"
)

// New builds a *zap.Logger from a LoggingConfig. Format "json" selects
// zap's production JSON encoding; anything else (including the default,
// "console") selects the human-readable console encoding.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}
