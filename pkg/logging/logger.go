// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the process-wide slog logger for eipchat binaries.
//
// Output goes to stdout by default (JSON, one object per line) and can be
// mirrored into a dated file under LogDir:
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
//	    Service: "orchestrator",
//	    JSON:    true,
//	    LogDir:  os.Getenv("LOG_DIR"),
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// This package does NOT redact anything. Callers must not log message
// content, bearer tokens or model credentials.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values mean Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum level written. Default: LevelInfo.
	Level Level

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON selects the JSON handler for the primary output. File output is
	// always JSON.
	JSON bool

	// LogDir mirrors records into "{Service}_{YYYY-MM-DD}.log" in this
	// directory. Empty disables file output.
	LogDir string

	// Output is the primary destination. Default: os.Stdout.
	Output io.Writer
}

// Logger owns the handlers behind a *slog.Logger and any open log file.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New builds a Logger from config.
//
// # Description
//
// The primary handler writes to config.Output. When LogDir is set, the
// directory is created with 0750 permissions and a JSON handler appends to
// the dated file. Failure to open the file is returned alongside a usable
// Logger that writes to the primary output only.
//
// # Outputs
//
//   - *Logger: Never nil. Close it to release the log file.
//   - error: Non-nil if file output was requested but could not be opened.
func New(config Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	var primary slog.Handler
	if config.JSON {
		primary = slog.NewJSONHandler(out, opts)
	} else {
		primary = slog.NewTextHandler(out, opts)
	}

	logger := &Logger{}
	handler := primary
	var fileErr error

	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service, time.Now())
		if err != nil {
			fileErr = err
		} else {
			logger.file = file
			handler = &multiHandler{handlers: []slog.Handler{primary, slog.NewJSONHandler(file, opts)}}
		}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger, fileErr
}

func openLogFile(dir, service string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "eipchat"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, now.Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(syncErr, closeErr)
}

// multiHandler fans a record out to every handler that accepts its level.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
