// Copyright (C) The Streamworkers Authors. All rights reserved.

package ctxlog

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

var (
	loggerCtxKey = new(int)
	rootLogger   = logrus.New()
)

const rfc3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

// Context returns a new child context such that FromContext(child)
// returns logger.
func Context(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext returns the logger attached to ctx, or the root logger if
// none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return logger
		}
	}
	return rootLogger.WithFields(nil)
}

// SetLevel sets the current logging level. See logrus for level names.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Fatal(err)
	}
	rootLogger.Level = lvl
}

// SetFormat sets the current logging format to "json" or "text".
func SetFormat(format string) {
	switch format {
	case "text":
		rootLogger.Formatter = &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: rfc3339NanoFixed,
		}
	case "json":
		rootLogger.Formatter = &logrus.JSONFormatter{
			TimestampFormat: rfc3339NanoFixed,
		}
	default:
		logrus.WithField("LogFormat", format).Fatal("unknown log format")
	}
}

// TestLogger returns a logger that writes to t.Log, for use in tests.
func TestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = testWriter{t}
	logger.Level = logrus.DebugLevel
	return logger
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
