// Package ciphermountlog sets up the structured operator log channel:
// diagnostic detail for collapsed EIO replies (decrypt/auth failures,
// backing I/O errors) is emitted here, never across the FUSE boundary.
package ciphermountlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger writing structured (text) logs to stderr.
// debug lowers the level from Info to Debug. Per-operation FUSE tracing is
// not emitted here; cmd/ciphermount gets it by setting
// fuse.MountConfig.DebugLogger when --debug is given.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
