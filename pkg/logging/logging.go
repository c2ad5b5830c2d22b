// Package logging provides the shared logrus constructor used by the
// vault and the session facade.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing text to stderr at the given level.
func New(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

// Default returns an info-level logger. Used wherever a config leaves
// Logger nil.
func Default() *logrus.Logger {
	return New(logrus.InfoLevel)
}
