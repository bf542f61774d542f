// Package logctx carries a zerolog Logger through context.Context.
package logctx

import (
	"context"

	"github.com/rs/zerolog"
)

type logKey struct{}

var nopLogger = zerolog.Nop()

// Log returns the logger attached to ctx. Contexts without one get a logger that discards everything.
func Log(ctx context.Context) *zerolog.Logger {
	logger, ok := ctx.Value(logKey{}).(*zerolog.Logger)
	if !ok || logger == nil {
		return &nopLogger
	}

	return logger
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// WithFields returns a context whose logger carries the given string fields in addition to the current ones.
func WithFields(ctx context.Context, fields map[string]string) context.Context {
	logCtx := Log(ctx).With()
	for key, value := range fields {
		logCtx = logCtx.Str(key, value)
	}

	logger := logCtx.Logger()
	return WithLogger(ctx, &logger)
}
