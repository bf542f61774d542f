package stages

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/ngld/assetsys/pkg/pipeline"
)

var mediaTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".svg":  "image/svg+xml",
}

type minifyStage struct {
	m *minify.M
}

// Minify compacts CSS, JavaScript, HTML, JSON and SVG resources based on their extension. Other files are
// passed through.
func Minify() pipeline.Transformer {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("application/json", json.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)

	return minifyStage{m: m}
}

func (s minifyStage) Name() string { return "minify" }

func (s minifyStage) Transform(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
	mediaType, ok := mediaTypes[strings.ToLower(res.Ext())]
	if !ok {
		return res, nil
	}

	contents, err := s.m.Bytes(mediaType, res.Contents)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to minify %s", res.Name)
	}

	out := res.Clone()
	out.Contents = contents
	return out, nil
}
