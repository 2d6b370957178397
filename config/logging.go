package config

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// SetupLogging installs the default logger. Unknown levels fall back to info.
func SetupLogging(w io.Writer, level, prefix string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          prefix,
	})
	log.SetDefault(logger)
	return logger
}
