package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds a sugared zap logger at level ("debug", "info", "warn",
// "error"). Debug uses the development encoder.
func NewZapLogger(level string) (*zap.SugaredLogger, error) {
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("telemetry: log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("telemetry: build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// HooksFromZap wires a sugared logger into Hooks.
func HooksFromZap(logger *zap.SugaredLogger) Hooks {
	if logger == nil {
		return Hooks{}
	}
	return Hooks{Logger: logger, StructuredLogger: logger}
}
