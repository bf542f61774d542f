package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ngld/assetsys/pkg/buildsys"
	bcmd "github.com/ngld/assetsys/pkg/buildsys/cmd"
	"github.com/ngld/assetsys/pkg/config"
	"github.com/ngld/assetsys/pkg/pipeline"
)

var rootCmd = &cobra.Command{
	Use:   "task",
	Short: "Asset build orchestrator",
	Long: `This command parses the project's tasks.star file and runs the requested tasks.
Sources are processed by each task's pipeline and written to the output directory. The watch
command re-runs affected tasks whenever a source file changes.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to assetsys.toml (default: search upwards from the working directory)")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't write anything")
	flags.IntP("jobs", "j", 0, "maximum number of tasks running at the same time (overrides the config)")
	flags.Bool("progress", false, "show a progress bar instead of the task log (run only)")
}

// Execute runs the CLI
func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}

// session bundles everything a command needs after the task script has been evaluated
type session struct {
	ctx       context.Context
	cfg       *config.Config
	logger    *zerolog.Logger
	closer    io.Closer
	project   *buildsys.Project
	dryRun    bool
	progress  bool
	onDone    func(*buildsys.RunResult)
	scheduler *buildsys.Scheduler
}

// splitArgs separates task names from option=value assignments
func splitArgs(args []string) ([]string, map[string]string) {
	tasks := make([]string, 0)
	options := make(map[string]string)
	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			tasks = append(tasks, part)
		}
	}

	return tasks, options
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	if cfgPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}

		root, err := bcmd.FindProjectRoot(wd)
		if err != nil {
			return nil, err
		}
		cfgPath = filepath.Join(root, bcmd.ProjectMarkers[0])
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	// the project root is relative to the config file, not the working directory
	if !filepath.IsAbs(cfg.Root) {
		cfgDir, err := filepath.Abs(filepath.Dir(cfgPath))
		if err != nil {
			return nil, err
		}
		cfg.Root = filepath.Join(cfgDir, cfg.Root)
	}

	if cmd.Flags().Changed("jobs") {
		cfg.Jobs, err = cmd.Flags().GetInt("jobs")
		if err != nil {
			return nil, err
		}
	}

	return cfg, cfg.Validate()
}

func newSession(cmd *cobra.Command, options map[string]string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	s.dryRun, err = cmd.Flags().GetBool("dry")
	if err != nil {
		return nil, err
	}

	s.progress, err = cmd.Flags().GetBool("progress")
	if err != nil {
		return nil, err
	}

	if s.progress && cfg.Log.Level == "info" {
		// the bar replaces the per-task messages
		cfg.Log.Level = "warn"
	}

	s.logger, s.closer, err = bcmd.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	s.ctx = buildsys.WithLogger(cmd.Context(), s.logger)
	s.project, err = buildsys.RunScript(s.ctx, cfg, options, true)
	if err != nil {
		s.closer.Close()
		return nil, err
	}

	return s, nil
}

// prepare creates the scheduler. With --progress, a bar sized to the planned tasks tracks the run.
func (s *session) prepare(tasks []string) error {
	root, err := s.cfg.Abs(".")
	if err != nil {
		return err
	}

	if s.progress {
		layers, err := s.project.Tasks.Plan(tasks...)
		if err != nil {
			return err
		}

		count := 0
		for _, layer := range layers {
			count += len(layer)
		}

		bar := newProgressBar(count)
		s.onDone = func(result *buildsys.RunResult) {
			bar.Describe(fmt.Sprintf("%s %s", result.Task, result.Status))
			_ = bar.Add(1)
		}
	}

	runner := pipeline.NewRunner(root, s.cfg.Workers, s.dryRun)
	s.scheduler = buildsys.NewScheduler(s.project.Tasks, runner, buildsys.SchedulerOptions{
		Jobs:       s.cfg.Jobs,
		DryRun:     s.dryRun,
		OnTaskDone: s.onDone,
	})
	return nil
}

func newProgressBar(count int) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions(count, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions(count,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

func (s *session) Close() {
	s.closer.Close()
}
