package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/assetsys/pkg/buildsys"
	"github.com/ngld/assetsys/pkg/devview"
	"github.com/ngld/assetsys/pkg/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [tasks...] [option=value...]",
	Short: "Run the given tasks, then re-run affected tasks whenever a watched file changes",
	Long: `Runs the given tasks once and then watches the patterns declared with watch() in the task script.
Changes arriving within the debounce period are combined into a single build. Stop with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, options := splitArgs(args)
		s, err := newSession(cmd, options)
		if err != nil {
			return err
		}
		defer s.Close()

		// the bar only makes sense for a single run
		s.progress = false
		err = s.prepare(tasks)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if len(tasks) > 0 {
			report, err := s.scheduler.Run(ctx, tasks...)
			if err != nil {
				return err
			}
			printSummary(report)
		}

		root, err := s.cfg.Abs(".")
		if err != nil {
			return err
		}

		var notifier devview.Notifier = devview.Nop{}
		if s.cfg.DevView.Enabled {
			notifier = devview.NewLogNotifier(s.cfg.DevView.Port)
		}

		dispatcher := buildsys.NewDispatcher(ctx, root, s.scheduler, notifier, s.cfg.Watch.Debounce)
		defer dispatcher.Close()

		for _, rule := range s.project.Watches {
			err = dispatcher.AddRule(rule)
			if err != nil {
				return err
			}
		}

		includes := dispatcher.Patterns()
		if len(includes) == 0 {
			return eris.New("the task script doesn't declare any watches")
		}

		return watcher.Watch(ctx, root, includes, s.cfg.Watch.Exclude, s.cfg.Watch.Lull, dispatcher.OnChange)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
