// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one security-relevant action.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "chat.session.write",
//	    UserID:       "user-123",
//	    Action:       "create",
//	    ResourceType: "chat",
//	    ResourceID:   "chat:abc",
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType uses "category.action" form, e.g. "policy.block".
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	// UserID identifies the caller, "anonymous" when unknown.
	UserID string

	// Action is the attempted operation: "create", "read", "delete", "send".
	Action string

	// ResourceType is the kind of resource, e.g. "chat" or "message".
	ResourceType string

	// ResourceID is the concrete resource, optional.
	ResourceID string

	// Outcome is one of "success", "failure", "blocked", "error".
	Outcome string

	// Metadata carries event specific fields. Must never hold message content.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use and must not block the
// request path for long; a failing audit sink is logged by the caller and
// never fails the request.
type AuditLogger interface {
	// Log records a single event.
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes audit events as structured log records.
//
// Records are emitted at Info level with an "audit" group, so they can be
// split from operational logs by any JSON log shipper.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger returns an audit logger backed by logger, or by
// slog.Default() when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log emits event as one log record.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "anonymous"
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("outcome", event.Outcome),
	}
	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}

	l.logger.InfoContext(ctx, "audit", slog.Group("audit", attrs...))
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
