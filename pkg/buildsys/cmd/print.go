package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ProjectMarkers are the files that identify a project root, in order of preference
var ProjectMarkers = []string{"assetsys.toml", "tasks.star"}

// FindProjectRoot walks up from start until it finds a directory containing one of ProjectMarkers
func FindProjectRoot(start string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		for _, marker := range ProjectMarkers {
			_, err := os.Stat(filepath.Join(path, marker))
			if err == nil {
				return path, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error ocurred while searching for project root")
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	return "", eris.Errorf("No %s or %s found", ProjectMarkers[0], ProjectMarkers[1])
}

func PrintTask(out io.Writer, msg string) {
	colorstring.Fprintf(out, "[blue][bold]==>[reset] %s\n", msg)
}

func PrintSubtask(out io.Writer, msg string) {
	colorstring.Fprintf(out, "[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(out io.Writer, msg string) {
	colorstring.Fprintf(out, "[red][bold]  ->[reset] %s\n", msg)
}

// PrintTaskList prints the names and descriptions of the given tasks in aligned columns
func PrintTaskList(out io.Writer, names []string, desc func(string) string) {
	maxNameLen := 0
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		fmt.Fprintf(out, lineFmt, name+":", desc(name))
	}
}
