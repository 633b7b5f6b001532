// Package obslog builds the zap loggers every Weaver component logs
// through, named per-component the way the teacher prefixed its
// log.Printf calls with "[component]".
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is Weaver's own level enum so callers never need to import zapcore
// directly from config.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the base *zap.Logger for the process. dev selects the
// human-readable console encoder (set from the log.dev config option);
// production mode emits JSON suitable for the activity
// log's sibling process logs.
func New(level Level, dev bool) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger, nil
}

// Named returns a SugaredLogger scoped to component, mirroring the
// teacher's "[component] message" log prefix convention as a structured
// zap field/name instead of a string prefix.
func Named(base *zap.Logger, component string) *zap.SugaredLogger {
	return base.Named(component).Sugar()
}

// Noop returns a logger that discards everything, for tests that don't
// want to assert on log output.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
