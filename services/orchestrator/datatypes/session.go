// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TitleMaxRunes is the length of a session title derived from the first message.
const TitleMaxRunes = 100

// SessionRecord is a persisted chat session.
//
// # Description
//
// A record is built once per plain-path answer and written under two keys:
// the session hash ChatKey(ID) and the owner's index UserChatsKey(UserID),
// where it is scored by CreatedAt. Writing the same ID again overwrites the
// hash without conflict detection.
//
// # Fields
//
//   - ID: Session identifier, supplied by the caller or generated.
//   - Title: First TitleMaxRunes runes of the first message.
//   - UserID: Owner, the authenticated caller.
//   - CreatedAt: Unix epoch milliseconds.
//   - Path: "/chat/{id}", used by the UI to link the session.
//   - Messages: Inbound conversation plus the generated assistant reply.
type SessionRecord struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	UserID    string        `json:"userId"`
	CreatedAt int64         `json:"createdAt"`
	Path      string        `json:"path"`
	Messages  []ChatMessage `json:"messages"`
}

// NewSessionRecord builds the record for a completed plain-path answer.
//
// # Inputs
//
//   - id: Session ID; a new UUID is generated when empty.
//   - userID: Owner of the session.
//   - messages: Inbound conversation. Must be non-empty. Not mutated.
//   - completion: Full assistant reply, appended as one assistant message.
//   - now: Creation time.
//
// # Outputs
//
//   - *SessionRecord: The populated record
func NewSessionRecord(id, userID string, messages []ChatMessage, completion string, now time.Time) *SessionRecord {
	if id == "" {
		id = uuid.NewString()
	}

	all := make([]ChatMessage, 0, len(messages)+1)
	all = append(all, messages...)
	all = append(all, ChatMessage{Role: RoleAssistant, Content: completion})

	var title string
	if len(messages) > 0 {
		title = truncateRunes(messages[0].Content, TitleMaxRunes)
	}

	return &SessionRecord{
		ID:        id,
		Title:     title,
		UserID:    userID,
		CreatedAt: now.UnixMilli(),
		Path:      "/chat/" + id,
		Messages:  all,
	}
}

// ChatKey is the key of the session hash for id.
func ChatKey(id string) string {
	return "chat:" + id
}

// UserChatsKey is the key of the sorted set indexing userID's sessions.
func UserChatsKey(userID string) string {
	return "user:chat:" + userID
}

// Key is the session hash key of r, also its member in the owner's index.
func (r *SessionRecord) Key() string {
	return ChatKey(r.ID)
}

// ToHash flattens r into hash fields. Messages are JSON encoded.
func (r *SessionRecord) ToHash() (map[string]any, error) {
	msgs, err := json.Marshal(r.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	return map[string]any{
		"id":        r.ID,
		"title":     r.Title,
		"userId":    r.UserID,
		"createdAt": strconv.FormatInt(r.CreatedAt, 10),
		"path":      r.Path,
		"messages":  string(msgs),
	}, nil
}

// SessionRecordFromHash is the inverse of ToHash.
func SessionRecordFromHash(fields map[string]string) (*SessionRecord, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty session hash")
	}

	r := &SessionRecord{
		ID:     fields["id"],
		Title:  fields["title"],
		UserID: fields["userId"],
		Path:   fields["path"],
	}
	if v := fields["createdAt"]; v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid createdAt %q: %w", v, err)
		}
		r.CreatedAt = ts
	}
	if v := fields["messages"]; v != "" {
		if err := json.Unmarshal([]byte(v), &r.Messages); err != nil {
			return nil, fmt.Errorf("invalid messages: %w", err)
		}
	}
	return r, nil
}

// SessionSummary is the list view of a session, without messages.
type SessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	Path      string `json:"path"`
}

// Summary returns the list view of r.
func (r *SessionRecord) Summary() SessionSummary {
	return SessionSummary{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, Path: r.Path}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
