// Package logger provides structured logging for all Packseal binaries,
// built on logrus.
//
//	log := logger.New("json", "info")
//	log.WithFields(logrus.Fields{"pack_id": packID}).Info("bake complete")
//
// JSON output in production, text output for local development.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a *logrus.Logger with the given format and level.
//
// format: "json" (default, production) or "text" (development).
// level:  "debug", "info" (default), "warn", "error".
func New(format, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
