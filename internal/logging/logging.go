// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup sets the level and formatter of the standard logrus logger.
// An unknown level falls back to info with a warning.
func Setup(level, format string) {
	SetupTo(os.Stderr, level, format)
}

// SetupTo is Setup with an explicit output.
func SetupTo(out io.Writer, level, format string) {
	log.SetOutput(out)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.Warnf("Invalid log level %q, defaulting to info", level)
		return
	}
	log.SetLevel(parsed)
	log.Debugf("Log level set to %s", parsed)
}
