// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package logging builds the console logger shared by the sync commands.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/smithy-go/logging"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// Options configure the console logger.
type Options struct {
	Debug   bool
	NoColor bool
	// RunID tags every record. A random one is generated when empty.
	RunID string
}

// New returns a tint console logger writing to w. Every record carries a
// run_id attribute so the output of one scheduled run can be correlated.
func New(w io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    opts.NoColor,
	})
	return slog.New(handler).With("run_id", runID)
}

// SmithyLogger adapts l to the AWS SDK logger interface. SDK warnings are
// logged at warn level, everything else at debug.
func SmithyLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(classification logging.Classification, format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		switch classification {
		case logging.Warn:
			l.Warn(msg, "source", "aws-sdk")
		default:
			l.Debug(msg, "source", "aws-sdk")
		}
	})
}
