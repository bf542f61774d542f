package cmd

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/assetsys/pkg/buildsys"
	bcmd "github.com/ngld/assetsys/pkg/buildsys/cmd"
)

var runCmd = &cobra.Command{
	Use:   "run [tasks...] [option=value...]",
	Short: "Run the given tasks and their dependencies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, options := splitArgs(args)
		if len(tasks) == 0 {
			return eris.New("no task given")
		}

		s, err := newSession(cmd, options)
		if err != nil {
			return err
		}
		defer s.Close()

		err = s.prepare(tasks)
		if err != nil {
			return err
		}

		report, err := s.scheduler.Run(s.ctx, tasks...)
		if err != nil {
			return err
		}

		printSummary(report)
		if report.Failed() {
			return eris.Errorf("%d task(s) failed, %d skipped", len(report.ByStatus(buildsys.StatusFailed)),
				len(report.ByStatus(buildsys.StatusSkipped)))
		}

		return nil
	},
}

func printSummary(report *buildsys.Report) {
	for _, layer := range report.Layers {
		for _, name := range layer {
			result := report.Get(name)
			if result == nil {
				continue
			}

			switch result.Status {
			case buildsys.StatusSucceeded:
				bcmd.PrintSubtask(os.Stderr, name+" ("+result.Duration().String()+")")
			case buildsys.StatusFailed:
				msg := name + ": " + result.Err.Error()
				for _, failure := range result.Failures {
					msg += "\n      " + strings.TrimSpace(failure.Error())
				}
				bcmd.PrintError(os.Stderr, msg)
			case buildsys.StatusSkipped:
				bcmd.PrintError(os.Stderr, name+" skipped")
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
