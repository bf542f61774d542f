package stages

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/ngld/assetsys/pkg/pipeline"
)

type compressor struct {
	ext       string
	newWriter func(io.Writer) (io.WriteCloser, error)
}

var compressors = map[string]compressor{
	"gzip": {
		ext: ".gz",
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.BestCompression)
		},
	},
	"brotli": {
		ext: ".br",
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriterLevel(w, brotli.BestCompression), nil
		},
	},
	"xz": {
		ext: ".xz",
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		},
	},
}

type compressStage struct {
	format string
	c      compressor
}

// Compress encodes every resource with gzip, brotli or xz and appends the matching extension.
func Compress(format string) (pipeline.Transformer, error) {
	if format == "" {
		format = "gzip"
	}

	c, ok := compressors[format]
	if !ok {
		return nil, eris.Errorf("unsupported compression format %s (must be one of gzip, brotli or xz)", format)
	}

	return compressStage{format: format, c: c}, nil
}

func (s compressStage) Name() string { return "compress" }

func (s compressStage) Transform(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
	var buffer bytes.Buffer
	writer, err := s.c.newWriter(&buffer)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to initialize %s encoder", s.format)
	}

	_, err = writer.Write(res.Contents)
	if err != nil {
		writer.Close()
		return nil, eris.Wrapf(err, "failed to compress %s", res.Name)
	}

	err = writer.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to compress %s", res.Name)
	}

	out := res.Clone()
	out.Contents = buffer.Bytes()
	out.Name += s.c.ext
	return out, nil
}
