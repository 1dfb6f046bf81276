// Package logging wraps logrus the way aldrin-isaac-newtron's pkg/util/log.go
// does: a single package-level logger, level/format setters, and small
// With* helpers for the field names this module logs by most often.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the global logger instance used across notch's packages.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLevel parses and applies a log level string (e.g. "debug", "info").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	return nil
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

// SetJSONFormat switches to JSON-formatted log lines, for production agents
// running behind a log shipper.
func SetJSONFormat() {
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithDevice returns an entry scoped to a device name.
func WithDevice(device string) *logrus.Entry {
	return Log.WithField("device", device)
}

// WithSession returns an entry scoped to a session key's string form.
func WithSession(session string) *logrus.Entry {
	return Log.WithField("session", session)
}

// WithFields is a thin re-export so callers don't need to import logrus
// directly for the common multi-field case.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
