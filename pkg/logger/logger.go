package logger

import (
	"fmt"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger from the log block of the configuration.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch cfg.Encoding {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log encoding %q", cfg.Encoding)
	}

	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	return zc.Build()
}

// Must is New with a fallback to zap.NewProduction when the
// configured logger cannot be built.
func Must(cfg config.LogConfig) *zap.Logger {
	l, err := New(cfg)
	if err == nil {
		return l
	}
	fallback, ferr := zap.NewProduction()
	if ferr != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", ferr))
	}
	fallback.Warn("Falling back to production logger", zap.Error(err))
	return fallback
}
