// Package cli wires the throttled commands with kingpin.
package cli

import (
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/byteness/throttle/logging"
)

// Throttle holds the global flags shared by every command.
type Throttle struct {
	ConfigPath string
	LogLevel   string

	// logWriter is overridable for tests; defaults to stderr.
	logWriter io.Writer
}

// Debug reports whether debug-level output is enabled.
func (t *Throttle) Debug() bool {
	return t.LogLevel == "debug"
}

// Logger builds the process logger from the global flags.
func (t *Throttle) Logger() logging.Logger {
	w := t.logWriter
	if w == nil {
		w = os.Stderr
	}
	return logging.NewJSONLogger(w)
}

// ConfigureGlobals sets up the flags shared by all commands.
func ConfigureGlobals(app *kingpin.Application) *Throttle {
	t := &Throttle{}

	app.Flag("config", "Path to the YAML configuration file").
		Default("throttle.yaml").
		Envar("CONFIG_PATH").
		StringVar(&t.ConfigPath)

	app.Flag("log-level", "Log verbosity").
		Default("info").
		Envar("LOG_LEVEL").
		EnumVar(&t.LogLevel, "info", "debug")

	return t
}
