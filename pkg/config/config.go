package config

import (
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Root       string `default:"." usage:"Project root; // in task scripts refers to this directory"`
	Tasks      string `default:"tasks.star" usage:"Task script, relative to the project root"`
	SourceRoot string `default:"src" usage:"Directory containing the asset sources (SRC_ROOT in task scripts)"`
	OutputRoot string `default:"app" usage:"Directory the build writes to (OUT_ROOT in task scripts)"`
	Jobs       int    `default:"0" usage:"Maximum number of tasks running at the same time (0 = unlimited)"`
	Workers    int    `default:"0" usage:"Goroutines per pipeline stage (0 = number of CPUs)"`
	Log        struct {
		Level string `default:"info"`
		File  string
		JSON  bool `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Watch struct {
		Debounce time.Duration `default:"200ms" usage:"Quiet period after a change before the affected tasks run"`
		Lull     time.Duration `default:"100ms" usage:"Batching interval of the filesystem watcher"`
		Exclude  []string      `usage:"Patterns the watcher ignores"`
	}
	DevView struct {
		Enabled bool `default:"true" usage:"Notify the dev view after watch builds"`
		Port    int  `default:"9992" usage:"Port the dev view server listens on"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by cobra, so the loader only looks at defaults, the config file and the environment.
func Loader(file string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "ASSETSYS",
		Files:     []string{file},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config file (if it exists) and the environment, then validates the result
func Load(file string) (*Config, error) {
	cfg, loader := Loader(file)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrapf(err, "failed to load config %s", file)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Tasks == "" {
		return eris.New("Invalid value for tasks: must not be empty")
	}

	if cfg.Jobs < 0 {
		return eris.Errorf("Invalid value for jobs: %d", cfg.Jobs)
	}

	if cfg.Workers < 0 {
		return eris.Errorf("Invalid value for workers: %d", cfg.Workers)
	}

	if cfg.Watch.Debounce < 0 {
		return eris.Errorf("Invalid value for watch.debounce: %s", cfg.Watch.Debounce)
	}

	if cfg.DevView.Port < 1 || cfg.DevView.Port > 65535 {
		return eris.Errorf("Invalid value for devview.port: %d", cfg.DevView.Port)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Abs resolves a configured path against the project root
func (cfg *Config) Abs(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Root, path)
	}

	return filepath.Abs(path)
}

// TaskScript returns the absolute path of the task script
func (cfg *Config) TaskScript() (string, error) {
	return cfg.Abs(cfg.Tasks)
}

// Sources returns the absolute source root
func (cfg *Config) Sources() (string, error) {
	return cfg.Abs(cfg.SourceRoot)
}

// Output returns the absolute output root
func (cfg *Config) Output() (string, error) {
	return cfg.Abs(cfg.OutputRoot)
}
