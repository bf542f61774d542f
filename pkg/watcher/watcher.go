// Package watcher turns filesystem events into change callbacks
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cortesi/moddwatch"
	"github.com/rotisserie/eris"

	"github.com/ngld/assetsys/pkg/logctx"
)

// ChangeFunc receives the absolute path of every added, changed or removed file
type ChangeFunc func(path string)

// Watch monitors root until ctx is cancelled. includes and excludes are globs relative to root (** is supported).
// Events are batched by moddwatch until lull passes without new events.
func Watch(ctx context.Context, root string, includes, excludes []string, lull time.Duration, onChange ChangeFunc) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return eris.Wrap(err, "failed to resolve watch root")
	}

	modch := make(chan *moddwatch.Mod, 1024)
	w, err := moddwatch.Watch(root, includes, excludes, lull, modch)
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", root)
	}
	defer w.Stop()

	logctx.Log(ctx).Info().Str("path", root).Strs("patterns", includes).Msg("watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case mod, ok := <-modch:
			if !ok {
				return nil
			}
			if mod == nil {
				continue
			}

			for _, group := range [][]string{mod.Added, mod.Changed, mod.Deleted} {
				for _, item := range group {
					if !filepath.IsAbs(item) {
						item = filepath.Join(root, item)
					}
					onChange(item)
				}
			}
		}
	}
}
