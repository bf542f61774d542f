// Package cmd contains the terminal output helpers shared by the CLI commands
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DebugEnv enables full error traces and dumps every event field
const DebugEnv = "BUILDSYS_DEBUG"

// ConsoleWriter renders zerolog's JSON events as colored, human readable lines
type ConsoleWriter struct {
	Out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter() *ConsoleWriter {
	return &ConsoleWriter{Out: os.Stderr}
}

func levelColor(level interface{}) string {
	switch level {
	case "fatal", "error":
		return "[red]"
	case "warn":
		return "[yellow]"
	case "debug", "trace":
		return "[blue]"
	default:
		return "[green]"
	}
}

// simplifyPath makes absolute paths below the working directory relative
func simplifyPath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}

	cwd, err := os.Getwd()
	if err != nil {
		return path
	}

	relPath, err := filepath.Rel(cwd, path)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return path
	}

	return relPath
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	w.buffer.WriteString(levelColor(evt["level"]))

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task)
		if stage, ok := evt["stage"].(string); ok {
			w.buffer.WriteString("/" + stage)
		}
		w.buffer.WriteString(": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if cmd, _ := evt["command"].(bool); cmd {
		msg = "$ " + msg
	}

	if path, ok := evt["path"].(string); ok && path != "" {
		relPath := simplifyPath(path)
		if strings.Contains(msg, path) {
			msg = strings.ReplaceAll(msg, path, relPath)
		} else {
			msg = fmt.Sprintf("%s (%s)", msg, relPath)
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if os.Getenv(DebugEnv) != "" {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		w.buffer.WriteString("\n")
		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.Out, w.buffer.String())
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv(DebugEnv) != "")
	}
}
