// Package shell wraps mvdan.cc/sh so task commands and command based stages behave the same on every platform.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Options configures a Runner
type Options struct {
	Dir    string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Environ merges the process environment with the given overrides. Overrides win.
func Environ(overrides map[string]string) expand.Environ {
	envVars := os.Environ()

	keys := make([]string, 0, len(overrides))
	for name := range overrides {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	for _, name := range keys {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, overrides[name]))
	}

	return expand.ListEnviron(envVars...)
}

// NewRunner returns an interpreter that stops at the first failing command (like sh -e).
func NewRunner(opts Options) (*interp.Runner, error) {
	runner, err := interp.New(
		interp.Dir(opts.Dir),
		interp.Env(Environ(opts.Env)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(opts.Stdin, opts.Stdout, opts.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to initialize runner")
	}

	return runner, nil
}

// Parse parses a shell script. name is only used in error messages.
func Parse(script, name string) (*syntax.File, error) {
	parser := syntax.NewParser()
	result, err := parser.Parse(strings.NewReader(script), name)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", script)
	}

	return result, nil
}

// Format prints a statement in its minified form for logging
func Format(node syntax.Node) string {
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}
	err := printer.Print(&strBuffer, node)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}

	return strBuffer.String()
}

// Run parses script and executes all statements with a fresh runner.
func Run(ctx context.Context, script, name string, opts Options) error {
	file, err := Parse(script, name)
	if err != nil {
		return err
	}

	runner, err := NewRunner(opts)
	if err != nil {
		return err
	}

	return runner.Run(ctx, file)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "rm":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			return builtinRm(ctx, args[1:])
		case "mkdir":
			return builtinMkdir(ctx, args[1:])
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}
