// Package logx is the daemon's single logger, a thin wrapper around
// charmbracelet/log: colorized in a terminal, structured key=value
// when piped or redirected to a file.
package logx

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the subset of *log.Logger this daemon uses.
type Logger = log.Logger

var std = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
})

// SetDebug toggles debug-level verbosity (the CLI's --debug flag).
func SetDebug(enabled bool) {
	if enabled {
		std.SetLevel(log.DebugLevel)
	} else {
		std.SetLevel(log.InfoLevel)
	}
}

// With returns a child logger carrying the given key/value pairs, so
// every line is tagged with the channel/component it came from.
func With(keyvals ...interface{}) *log.Logger {
	return std.With(keyvals...)
}

func Debug(msg string, keyvals ...interface{}) { std.Debug(msg, keyvals...) }
func Info(msg string, keyvals ...interface{})  { std.Info(msg, keyvals...) }
func Warn(msg string, keyvals ...interface{})  { std.Warn(msg, keyvals...) }
func Error(msg string, keyvals ...interface{}) { std.Error(msg, keyvals...) }
