// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists chat sessions in a key-value store.
//
// Every backend uses the same key layout:
//
//   - chat:{id}          hash of the SessionRecord fields
//   - user:chat:{userId} sorted set of "chat:{id}" members scored by createdAt
//
// Redis is the production backend. Badger provides the same two structures in
// an embedded database for single-node and local deployments.
package storage

import (
	"context"
	"errors"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// DefaultListLimit caps ListUserSessions when the caller passes limit <= 0.
const DefaultListLimit = 50

// SessionStore reads and writes chat sessions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// SaveSession writes rec under ChatKey(rec.ID) and adds it to the owner's
	// index with score rec.CreatedAt. An existing record with the same ID is
	// overwritten.
	SaveSession(ctx context.Context, rec *datatypes.SessionRecord) error

	// GetSession reads one session. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (*datatypes.SessionRecord, error)

	// ListUserSessions returns up to limit sessions of userID, newest first.
	ListUserSessions(ctx context.Context, userID string, limit int) ([]datatypes.SessionSummary, error)

	// DeleteSession removes the session hash and its index entry. Returns
	// ErrNotFound if the session is absent or owned by someone else.
	DeleteSession(ctx context.Context, userID, id string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection or database.
	Close() error
}
