// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package logging provides the structured logging interface used
// throughout the keystore core.
package logging

import (
	"fmt"
	"log"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger with the keystore core's preferred call
// shapes (fmt-style formatted helpers alongside plain message helpers),
// and lets call sites attach caller/operation context as structured
// fields rather than string-formatting it into the message.
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// NewLogger creates a new logger instance writing to stderr.
func NewLogger(debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{logger: slog.New(handler), debug: debug}
}

// DefaultLogger returns a default logger instance with debug=false.
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// WithOperation returns a child logger with "operation" and "uid" fields
// attached to every subsequent log line. Used by KeyStoreCore to tag each
// public call's entry/exit/error logs.
func (l *Logger) WithOperation(operation string, uid int32) *Logger {
	return &Logger{logger: l.logger.With("operation", operation, "uid", uid), debug: l.debug}
}

func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(err error, args ...any) {
	l.logger.Error(err.Error(), args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// FatalError logs a fatal error and exits. Only used by cmd/ entry points.
func (l *Logger) FatalError(err error) {
	log.Fatal(err)
}

// MaybeError logs an error if it's not nil.
func (l *Logger) MaybeError(err error, args ...any) {
	if err != nil {
		l.logger.Error(err.Error(), args...)
	}
}
