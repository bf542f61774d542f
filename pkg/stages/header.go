package stages

import (
	"bytes"
	"context"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/ngld/assetsys/pkg/pipeline"
)

type headerStage struct {
	tpl  *template.Template
	vars map[string]interface{}
}

// Header prepends a banner rendered from text. The template sees vars plus "file" (the resource's output name).
func Header(text string, vars map[string]interface{}) (pipeline.Transformer, error) {
	tpl, err := template.New("header").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse header template")
	}

	return headerStage{tpl: tpl, vars: vars}, nil
}

func (s headerStage) Name() string { return "header" }

func (s headerStage) Transform(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
	data := make(map[string]interface{}, len(s.vars)+1)
	for key, value := range s.vars {
		data[key] = value
	}
	data["file"] = res.Name

	var buffer bytes.Buffer
	err := s.tpl.Execute(&buffer, data)
	if err != nil {
		return nil, eris.Wrap(err, "failed to render header")
	}

	buffer.Write(res.Contents)

	out := res.Clone()
	out.Contents = buffer.Bytes()
	return out, nil
}
