package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	bcmd "github.com/ngld/assetsys/pkg/buildsys/cmd"
)

var listCmd = &cobra.Command{
	Use:   "list [option=value...]",
	Short: "List the available tasks and script options",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, options := splitArgs(args)
		s, err := newSession(cmd, options)
		if err != nil {
			return err
		}
		defer s.Close()

		all, _ := cmd.Flags().GetBool("all")
		names := make([]string, 0, len(s.project.Tasks))
		for _, name := range s.project.Tasks.Names() {
			if all || !s.project.Tasks[name].Hidden {
				names = append(names, name)
			}
		}

		bcmd.PrintTask(os.Stdout, "Available tasks:")
		bcmd.PrintTaskList(os.Stdout, names, func(name string) string {
			return s.project.Tasks[name].Desc
		})

		if len(s.project.Options) > 0 {
			optNames := make([]string, 0, len(s.project.Options))
			for name := range s.project.Options {
				optNames = append(optNames, name)
			}
			sort.Strings(optNames)

			bcmd.PrintTask(os.Stdout, "Options:")
			bcmd.PrintTaskList(os.Stdout, optNames, func(name string) string {
				opt := s.project.Options[name]
				return fmt.Sprintf("%s (default: %q)", opt.Help, opt.Default())
			})
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolP("all", "a", false, "include hidden tasks")
}
