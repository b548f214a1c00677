package config

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvLogLevel overrides the log level chosen on the command line.
const EnvLogLevel = "SATFOLIO_LOG_LEVEL"

// NewLogger returns the logger of a run, writing to out.
// The level is Info, Debug when verbose, Warn when quiet, unless EnvLogLevel is set.
func NewLogger(out io.Writer, verbose, quiet bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logLevel(verbose, quiet, os.Getenv(EnvLogLevel)))
	return logger
}

func logLevel(verbose, quiet bool, env string) logrus.Level {
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(env)); env != "" && err == nil {
		return lvl
	}
	switch {
	case verbose:
		return logrus.DebugLevel
	case quiet:
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}
