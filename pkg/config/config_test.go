package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "assetsys.toml"))
	require.NoError(t, err)

	require.Equal(t, ".", cfg.Root)
	require.Equal(t, "tasks.star", cfg.Tasks)
	require.Equal(t, "src", cfg.SourceRoot)
	require.Equal(t, "app", cfg.OutputRoot)
	require.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
	require.Equal(t, 9992, cfg.DevView.Port)
	require.True(t, cfg.DevView.Enabled)
	require.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestLoadFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "assetsys.toml")
	require.NoError(t, ioutil.WriteFile(file, []byte(`
jobs = 3

[log]
level = "debug"

[watch]
debounce = "50ms"
`), 0644))

	t.Setenv("ASSETSYS_WORKERS", "7")

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Jobs)
	require.Equal(t, 7, cfg.Workers)
	require.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	require.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		require.NoError(t, err)
		return cfg
	}

	cfg := valid()
	cfg.Log.Level = "loud"
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Jobs = -1
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.DevView.Port = 70000
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Tasks = ""
	require.Error(t, cfg.Validate())

	require.NoError(t, valid().Validate())
}

func TestPaths(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(filepath.Join(root, "assetsys.toml"))
	require.NoError(t, err)
	cfg.Root = root

	script, err := cfg.TaskScript()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "tasks.star"), script)

	out, err := cfg.Output()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "app"), out)

	abs, err := cfg.Abs("/elsewhere")
	require.NoError(t, err)
	require.Equal(t, filepath.Clean("/elsewhere"), abs)
}
