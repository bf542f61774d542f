package pipeline

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ngld/assetsys/pkg/logctx"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return logctx.WithLogger(context.Background(), &logger)
}

// writeFiles creates the given files (slash separated, relative to root)
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
