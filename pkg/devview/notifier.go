// Package devview defines how builds talk to the live development view.
//
// The dev view server itself (static files, live-reload transport) lives outside of this module. Builds only
// tell it to reload the page or to swap a single changed asset.
package devview

import (
	"context"
	"fmt"

	"github.com/ngld/assetsys/pkg/logctx"
)

// Notifier is implemented by dev view integrations
type Notifier interface {
	NotifyReload(ctx context.Context)
	NotifyAssetChanged(ctx context.Context, path string)
}

// LogNotifier reports reload requests in the build log. It's used when no live-reload integration is configured.
type LogNotifier struct {
	URL string
}

// NewLogNotifier returns a LogNotifier for a dev view server listening on port
func NewLogNotifier(port int) *LogNotifier {
	return &LogNotifier{URL: fmt.Sprintf("http://localhost:%d", port)}
}

// NotifyReload implements Notifier
func (n *LogNotifier) NotifyReload(ctx context.Context) {
	logctx.Log(ctx).Info().Str("url", n.URL).Msg("reload dev view")
}

// NotifyAssetChanged implements Notifier
func (n *LogNotifier) NotifyAssetChanged(ctx context.Context, path string) {
	logctx.Log(ctx).Info().Str("url", n.URL).Str("path", path).Msgf("inject %s", path)
}

// Multi forwards every notification to all contained notifiers
type Multi []Notifier

// NotifyReload implements Notifier
func (m Multi) NotifyReload(ctx context.Context) {
	for _, n := range m {
		n.NotifyReload(ctx)
	}
}

// NotifyAssetChanged implements Notifier
func (m Multi) NotifyAssetChanged(ctx context.Context, path string) {
	for _, n := range m {
		n.NotifyAssetChanged(ctx, path)
	}
}

// Nop ignores all notifications
type Nop struct{}

func (Nop) NotifyReload(context.Context) {}

func (Nop) NotifyAssetChanged(context.Context, string) {}
