package stages

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/assetsys/pkg/pipeline"
	"github.com/ngld/assetsys/pkg/shell"
)

type execStage struct {
	cmd    string
	script *syntax.File
	ext    string
	env    map[string]string
}

// Exec pipes every resource through a shell command (i.e. "sass --stdin" or "postcss --use autoprefixer").
// The command reads the contents on stdin and has to print the result to stdout. $FILE contains the source path.
// If ext is set, it replaces the extension of the output name.
func Exec(cmd, ext string, env map[string]string) (pipeline.Transformer, error) {
	script, err := shell.Parse(cmd, "compile")
	if err != nil {
		return nil, err
	}

	return execStage{cmd: cmd, script: script, ext: ext, env: env}, nil
}

func (s execStage) Name() string { return "compile" }

func commandEnv(base map[string]string, res *pipeline.Resource) map[string]string {
	env := make(map[string]string, len(base)+2)
	for key, value := range base {
		env[key] = value
	}
	env["FILE"] = res.Path
	env["NAME"] = res.Name

	return env
}

func (s execStage) Transform(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
	var stdout, stderr bytes.Buffer
	runner, err := shell.NewRunner(shell.Options{
		Dir:    filepath.Dir(res.Path),
		Env:    commandEnv(s.env, res),
		Stdin:  bytes.NewReader(res.Contents),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, s.script)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: %s", s.cmd, strings.TrimSpace(stderr.String()))
	}

	out := res.Clone()
	out.Contents = stdout.Bytes()
	if s.ext != "" {
		out.ReplaceExt(s.ext)
	}

	return out, nil
}

type lintStage struct {
	cmd    string
	script *syntax.File
	env    map[string]string
}

// Lint runs a checker for every resource and fails the resource if the command exits with a non-zero status.
// The resource is passed on unchanged. $FILE contains the source path, the contents are available on stdin.
func Lint(cmd string, env map[string]string) (pipeline.Transformer, error) {
	script, err := shell.Parse(cmd, "lint")
	if err != nil {
		return nil, err
	}

	return lintStage{cmd: cmd, script: script, env: env}, nil
}

func (s lintStage) Name() string { return "lint" }

func (s lintStage) Transform(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
	var output bytes.Buffer
	runner, err := shell.NewRunner(shell.Options{
		Dir:    filepath.Dir(res.Path),
		Env:    commandEnv(s.env, res),
		Stdin:  bytes.NewReader(res.Contents),
		Stdout: &output,
		Stderr: &output,
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, s.script)
	if err != nil {
		return nil, eris.Wrapf(err, "lint reported problems:\n%s", strings.TrimSpace(output.String()))
	}

	return res, nil
}
