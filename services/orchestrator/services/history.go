// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HistoryService reads and deletes a caller's stored chats.
//
// Every operation is scoped to the caller: a chat owned by someone else is
// reported as storage.ErrNotFound, never as forbidden.
type HistoryService struct {
	store storage.SessionStore
	audit extensions.AuditLogger
}

// NewHistoryService creates a history service over store.
func NewHistoryService(store storage.SessionStore, audit extensions.AuditLogger) *HistoryService {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &HistoryService{store: store, audit: audit}
}

// List returns up to limit summaries of userID's chats, newest first.
func (s *HistoryService) List(ctx context.Context, userID string, limit int) ([]datatypes.SessionSummary, error) {
	ctx, span := tracer.Start(ctx, "HistoryService.List")
	defer span.End()

	summaries, err := s.store.ListUserSessions(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	span.SetAttributes(attribute.Int("sessions.count", len(summaries)))
	return summaries, nil
}

// Get returns chat id if userID owns it.
func (s *HistoryService) Get(ctx context.Context, userID, id string) (*datatypes.SessionRecord, error) {
	ctx, span := tracer.Start(ctx, "HistoryService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	rec, err := s.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if rec.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// Delete removes chat id and its index entry if userID owns it.
func (s *HistoryService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "HistoryService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	err := s.store.DeleteSession(ctx, userID, id)
	outcome := "success"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		outcome = "failure"
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		outcome = "error"
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if auditErr := s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "chat.session.delete",
		UserID:       userID,
		Action:       "delete",
		ResourceType: "chat",
		ResourceID:   datatypes.ChatKey(id),
		Outcome:      outcome,
	}); auditErr != nil {
		slog.Warn("Audit log failed", "event_type", "chat.session.delete", "error", auditErr)
	}
	return err
}
