// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the chat orchestrator.
//
// This file contains the inbound chat request types. Persisted session types
// live in session.go and vector index types in weaviate_query.go.
package datatypes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	if err := chatValidate.RegisterValidation("maxbytes", validateMaxBytes); err != nil {
		panic(err)
	}
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatMessage is one turn of a conversation.
//
// A sequence of ChatMessage is ordered chronologically and is never mutated
// once received; the session recorder appends to a copy.
type ChatMessage struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"maxbytes"`
}

// ConversationPayload is the request body of POST /api/chat.
//
// # Fields
//
//   - Messages: Required. The full conversation, oldest first. The last
//     element is the turn being answered.
//   - ID: Optional. Session identifier to write the conversation under. A new
//     one is generated when empty.
//   - PreviewToken: Optional. Model API credential used for this request
//     only, instead of the configured one.
type ConversationPayload struct {
	Messages     []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	ID           string        `json:"id,omitempty" validate:"omitempty,max=128"`
	PreviewToken string        `json:"previewToken,omitempty"`
}

// Validate checks the payload against its validation tags.
//
// # Outputs
//
//   - error: Non-nil with a field-level description when invalid
func (p *ConversationPayload) Validate() error {
	if err := chatValidate.Struct(p); err != nil {
		return fmt.Errorf("invalid chat payload: %w", err)
	}
	return nil
}

// LatestUserIndex returns the index of the most recent user message, or -1
// if the conversation has none.
func (p *ConversationPayload) LatestUserIndex() int {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// HasPreviewToken reports whether a per-request credential was supplied.
func (p *ConversationPayload) HasPreviewToken() bool {
	return strings.TrimSpace(p.PreviewToken) != ""
}
