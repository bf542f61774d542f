package cmd

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/ngld/assetsys/pkg/config"
)

// NewLogger builds the process logger from the log section of cfg. The returned closer releases the log file,
// if one was configured.
func NewLogger(cfg *config.Config) (*zerolog.Logger, io.Closer, error) {
	var out io.Writer
	if cfg.Log.JSON {
		out = os.Stderr
	} else {
		out = NewConsoleWriter()
	}

	var closer io.Closer = nopCloser{}
	if cfg.Log.File != "" {
		file, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "failed to open log file %s", cfg.Log.File)
		}

		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	logger := zerolog.New(out).Level(cfg.LogLevel()).With().Timestamp().Logger()
	return &logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
