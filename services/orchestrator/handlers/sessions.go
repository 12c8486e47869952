// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/middleware"
	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"github.com/gin-gonic/gin"
)

// MaxListLimit caps the limit query parameter of GET /api/chats.
const MaxListLimit = 200

// ChatHistory reads and deletes the stored chats of a user.
//
// *services.HistoryService implements it.
type ChatHistory interface {
	List(ctx context.Context, userID string, limit int) ([]datatypes.SessionSummary, error)
	Get(ctx context.Context, userID, id string) (*datatypes.SessionRecord, error)
	Delete(ctx context.Context, userID, id string) error
}

// SessionsHandler serves the stored chat endpoints. Every endpoint is
// scoped to the authenticated caller; a chat owned by someone else is
// reported as not found.
type SessionsHandler struct {
	history ChatHistory
	metrics *observability.ChatMetrics
}

// NewSessionsHandler creates a SessionsHandler. metrics may be nil.
func NewSessionsHandler(history ChatHistory, metrics *observability.ChatMetrics) *SessionsHandler {
	return &SessionsHandler{history: history, metrics: metrics}
}

// ListChats handles GET /api/chats?limit=N.
//
// Responds with {"chats": [...]} newest first. limit defaults to
// storage.DefaultListLimit and must be between 1 and MaxListLimit.
func (h *SessionsHandler) ListChats(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		middleware.AbortUnauthorized(c)
		return
	}

	limit := storage.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxListLimit {
			h.metrics.RecordError(observability.EndpointChatsList, observability.ErrorCodeValidation)
			h.metrics.RecordRequest(observability.EndpointChatsList, false)
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 200"})
			return
		}
		limit = n
	}

	chats, err := h.history.List(c.Request.Context(), authInfo.UserID, limit)
	if err != nil {
		slog.Error("Failed to list chats", "user_id", authInfo.UserID, "error", err)
		h.fail(c, observability.EndpointChatsList, err)
		return
	}
	if chats == nil {
		chats = []datatypes.SessionSummary{}
	}

	h.metrics.RecordRequest(observability.EndpointChatsList, true)
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat handles GET /api/chats/:id.
func (h *SessionsHandler) GetChat(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		middleware.AbortUnauthorized(c)
		return
	}

	rec, err := h.history.Get(c.Request.Context(), authInfo.UserID, c.Param("id"))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("Failed to read chat", "chat_id", c.Param("id"), "error", err)
		}
		h.fail(c, observability.EndpointChatGet, err)
		return
	}

	h.metrics.RecordRequest(observability.EndpointChatGet, true)
	c.JSON(http.StatusOK, rec)
}

// DeleteChat handles DELETE /api/chats/:id.
//
// Responds with 204 on success.
func (h *SessionsHandler) DeleteChat(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		middleware.AbortUnauthorized(c)
		return
	}

	id := c.Param("id")
	slog.Info("Received a request to delete a chat", "chat_id", id)
	if err := h.history.Delete(c.Request.Context(), authInfo.UserID, id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("Failed to delete chat", "chat_id", id, "error", err)
		}
		h.fail(c, observability.EndpointChatDelete, err)
		return
	}

	h.metrics.RecordRequest(observability.EndpointChatDelete, true)
	c.Status(http.StatusNoContent)
}

func (h *SessionsHandler) fail(c *gin.Context, endpoint observability.Endpoint, err error) {
	h.metrics.RecordRequest(endpoint, false)
	if errors.Is(err, storage.ErrNotFound) {
		h.metrics.RecordError(endpoint, observability.ErrorCodeNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	h.metrics.RecordError(endpoint, observability.ErrorCodePersistence)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chat history"})
}
