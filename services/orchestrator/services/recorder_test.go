// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecorder_Record(t *testing.T) {
	store := newFakeStore()
	audit := &recordingAudit{}
	rec := NewSessionRecorder(store, audit, nil)
	fixed := time.UnixMilli(1_700_000_000_000)
	rec.now = func() time.Time { return fixed }

	payload := &datatypes.ConversationPayload{
		Messages: []datatypes.ChatMessage{{Role: datatypes.RoleUser, Content: strings.Repeat("x", 150)}},
	}

	got, err := rec.Record(context.Background(), "user-7", payload, "answer")
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID, "an id is generated when the payload has none")
	assert.Equal(t, "/chat/"+got.ID, got.Path)
	assert.Equal(t, strings.Repeat("x", 100), got.Title)
	assert.Equal(t, fixed.UnixMilli(), got.CreatedAt)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, datatypes.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "answer", got.Messages[1].Content)
	assert.Len(t, payload.Messages, 1, "the request's messages are not mutated")

	assert.Same(t, got, store.Records[got.ID])
	require.Len(t, audit.Events, 1)
	assert.Equal(t, "chat.session.write", audit.Events[0].EventType)
	assert.Equal(t, "success", audit.Events[0].Outcome)
	assert.Equal(t, datatypes.ChatKey(got.ID), audit.Events[0].ResourceID)
}

func TestSessionRecorder_OverwritesSameID(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionRecorder(store, nil, nil)
	payload := &datatypes.ConversationPayload{
		ID:       "fixed",
		Messages: []datatypes.ChatMessage{{Role: datatypes.RoleUser, Content: "q"}},
	}

	_, err := rec.Record(context.Background(), "u", payload, "first")
	require.NoError(t, err)
	_, err = rec.Record(context.Background(), "u", payload, "second")
	require.NoError(t, err)

	assert.Equal(t, 2, store.Saves)
	assert.Equal(t, "second", store.Records["fixed"].Messages[1].Content)
}

func TestSessionRecorder_Errors(t *testing.T) {
	t.Run("store failure", func(t *testing.T) {
		store := newFakeStore()
		store.SaveErr = errBoom
		audit := &recordingAudit{}

		_, err := NewSessionRecorder(store, audit, nil).Record(context.Background(), "u",
			&datatypes.ConversationPayload{Messages: []datatypes.ChatMessage{{Role: datatypes.RoleUser, Content: "q"}}}, "a")

		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, errBoom)
		require.Len(t, audit.Events, 1)
		assert.Equal(t, "failure", audit.Events[0].Outcome)
	})

	t.Run("no owner", func(t *testing.T) {
		store := newFakeStore()
		_, err := NewSessionRecorder(store, nil, nil).Record(context.Background(), "",
			&datatypes.ConversationPayload{Messages: []datatypes.ChatMessage{{Role: datatypes.RoleUser, Content: "q"}}}, "a")

		assert.ErrorIs(t, err, ErrPersistence)
		assert.Zero(t, store.Saves)
	})

	t.Run("no messages", func(t *testing.T) {
		store := newFakeStore()
		_, err := NewSessionRecorder(store, nil, nil).Record(context.Background(), "u",
			&datatypes.ConversationPayload{}, "a")

		assert.ErrorIs(t, err, ErrPersistence)
		assert.Zero(t, store.Saves)
	})
}

func TestSessionRecorder_BadgerRoundTrip(t *testing.T) {
	store, err := storage.OpenBadgerStore(storage.InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	payload := &datatypes.ConversationPayload{
		ID:       "X",
		Messages: []datatypes.ChatMessage{{Role: datatypes.RoleUser, Content: "What is EIP-1?"}},
	}
	written, err := NewSessionRecorder(store, nil, nil).Record(context.Background(), "user-1", payload, "EIP purpose")
	require.NoError(t, err)

	read, err := store.GetSession(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, written.Messages, read.Messages)
	assert.Equal(t, written.CreatedAt, read.CreatedAt)

	list, err := store.ListUserSessions(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "X", list[0].ID)
}
