package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
)

func splitFlags(args []string) (map[rune]bool, []string) {
	flags := make(map[rune]bool)
	rest := make([]string, 0, len(args))
	parseFlags := true

	for _, arg := range args {
		if parseFlags && arg == "--" {
			parseFlags = false
			continue
		}

		if parseFlags && len(arg) > 1 && strings.HasPrefix(arg, "-") {
			for _, flag := range arg[1:] {
				flags[flag] = true
			}
			continue
		}

		rest = append(rest, arg)
	}

	return flags, rest
}

func resolve(ctx context.Context, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(interp.HandlerCtx(ctx).Dir, path)
}

func builtinRm(ctx context.Context, args []string) error {
	flags, paths := splitFlags(args)
	hc := interp.HandlerCtx(ctx)

	for _, item := range paths {
		item = resolve(ctx, item)

		var err error
		if flags['r'] || flags['R'] {
			err = os.RemoveAll(item)
		} else {
			err = os.Remove(item)
		}

		if err != nil {
			if flags['f'] && eris.Is(err, os.ErrNotExist) {
				continue
			}

			fmt.Fprintf(hc.Stderr, "rm: %s\n", err)
			return interp.NewExitStatus(1)
		}
	}

	return nil
}

func builtinMkdir(ctx context.Context, args []string) error {
	flags, paths := splitFlags(args)
	hc := interp.HandlerCtx(ctx)

	for _, item := range paths {
		item = resolve(ctx, item)

		var err error
		if flags['p'] {
			err = os.MkdirAll(item, 0755)
		} else {
			err = os.Mkdir(item, 0755)
		}

		if err != nil {
			fmt.Fprintf(hc.Stderr, "mkdir: %s\n", err)
			return interp.NewExitStatus(1)
		}
	}

	return nil
}
