// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SessionRecorder persists answered conversations.
//
// # Description
//
// Record builds the SessionRecord for a finished plain-path answer and writes
// it through the session store: the record itself under "chat:{id}" and its
// entry in the owner's index under "user:chat:{userId}". A later write for
// the same id overwrites the earlier one.
//
// # Thread Safety
//
// Safe for concurrent use.
type SessionRecorder struct {
	store   storage.SessionStore
	audit   extensions.AuditLogger
	metrics *observability.ChatMetrics
	now     func() time.Time
}

// NewSessionRecorder creates a recorder writing to store.
//
// # Inputs
//
//   - store: Required session store.
//   - audit: Audit sink; nil uses NopAuditLogger.
//   - metrics: Optional; nil disables metrics.
func NewSessionRecorder(
	store storage.SessionStore,
	audit extensions.AuditLogger,
	metrics *observability.ChatMetrics,
) *SessionRecorder {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &SessionRecorder{
		store:   store,
		audit:   audit,
		metrics: metrics,
		now:     time.Now,
	}
}

// Record writes the conversation plus completion as userID's session.
//
// # Inputs
//
//   - ctx: Request context.
//   - userID: Authenticated owner. Must not be empty.
//   - payload: The validated request. payload.ID is reused when set.
//   - completion: The assistant answer appended to the stored messages.
//
// # Outputs
//
//   - *datatypes.SessionRecord: The record as written.
//   - error: Wraps ErrPersistence when the store fails.
func (r *SessionRecorder) Record(
	ctx context.Context,
	userID string,
	payload *datatypes.ConversationPayload,
	completion string,
) (*datatypes.SessionRecord, error) {
	ctx, span := tracer.Start(ctx, "SessionRecorder.Record")
	defer span.End()

	if userID == "" || len(payload.Messages) == 0 {
		err := fmt.Errorf("%w: record needs an owner and at least one message", ErrPersistence)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid record")
		return nil, err
	}

	rec := datatypes.NewSessionRecord(payload.ID, userID, payload.Messages, completion, r.now())
	span.SetAttributes(
		attribute.String("session.id", rec.ID),
		attribute.Int("session.messages", len(rec.Messages)),
	)

	if err := r.store.SaveSession(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session write failed")
		r.metrics.RecordSessionWrite(false)
		slog.Error("Failed to persist chat session",
			"session_id", rec.ID,
			"user_id", userID,
			"error", err,
		)
		r.logAudit(ctx, userID, rec.Key(), "failure")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.metrics.RecordSessionWrite(true)
	r.logAudit(ctx, userID, rec.Key(), "success")
	return rec, nil
}

func (r *SessionRecorder) logAudit(ctx context.Context, userID, resourceID, outcome string) {
	err := r.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "chat.session.write",
		UserID:       userID,
		Action:       "create",
		ResourceType: "chat",
		ResourceID:   resourceID,
		Outcome:      outcome,
	})
	if err != nil {
		slog.Warn("Audit log failed", "event_type", "chat.session.write", "error", err)
	}
}
