package buildsys

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ngld/assetsys/pkg/logctx"
)

func log(ctx context.Context) *zerolog.Logger {
	return logctx.Log(ctx)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return logctx.WithLogger(ctx, logger)
}
