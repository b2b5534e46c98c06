package observability

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console output for local development
	Output io.Writer
}

// basic global logger, JSON to stdout.
var logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "parrot-api").Logger()

// Init replaces the global logger. Call it once from main.
func Init(cfg LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "parrot-api").
		Logger()
}

func Logger() *zerolog.Logger {
	return &logger
}

// WithRequestID stores a request-scoped logger in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	l := logger.With().Str("request_id", requestID).Logger()
	return l.WithContext(ctx)
}

// LoggerFromContext returns the request-scoped logger, or the global one.
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &logger
}
