package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// backgroundCtx is used for the one-shot storage.Open call, which runs
// before the server's own request-scoped context exists.
func backgroundCtx() context.Context { return context.Background() }

// sqlLogger hands storage/sql the logrus.Logger it wants for migration
// output; authd's own request logging goes through slog (see logger.go),
// this is narrowly for the SQL adapter's internal use.
func sqlLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

func envOrEmpty(name string) string { return os.Getenv(name) }
