/*
logging.go - Logger construction

PURPOSE:
  Builds the process logger: JSON-formatted logrus to stdout, level from
  configuration. Every component receives this logger by injection; no
  package keeps a global.
*/
package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a JSON logger at the named level. Unknown level names
// fall back to info.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
