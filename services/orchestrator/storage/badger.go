// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Badger Database Lifecycle
// =============================================================================

// BadgerConfig configures the embedded session database.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. Used by tests and lightweight mode.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil silences them.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns settings for a persistent database at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns settings for a throwaway database.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// openBadger opens the database described by cfg.
func openBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// gcRunner periodically reclaims value log space.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*gcRunner, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		r.logger.Debug("badger value log GC completed")
	case !errors.Is(err, badger.ErrNoRewrite):
		r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
	}
}
