// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the Gin handlers of the chat service.
//
// Handlers parse and validate requests, enforce the content policy and
// translate service results into HTTP responses. Business logic lives in the
// services package.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/middleware"
	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/services"
	"github.com/AleutianAI/eipchat/services/policy_engine"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("eipchat.orchestrator.handlers")

// PolicyViolationMessage is the error text of a 403 policy response.
const PolicyViolationMessage = "Policy Violation: Message contains sensitive data."

// ChatHandler serves POST /api/chat.
//
// # Description
//
// The handler answers one chat turn:
//  1. Resolve the caller set by middleware.AuthMiddleware.
//  2. Bind and validate the ConversationPayload.
//  3. Scan the latest user message with the policy engine.
//  4. Stream the answer from the Completer as text/plain.
//
// Failures before the first chunk produce a JSON error response. Once the
// stream has begun the status line is already sent, so failures are logged
// and the connection is closed early.
//
// # Thread Safety
//
// Safe for concurrent use. The handler holds no per-request state.
type ChatHandler struct {
	completer services.Completer
	policy    *policy_engine.PolicyEngine
	audit     extensions.AuditLogger
	metrics   *observability.ChatMetrics
}

// NewChatHandler creates a ChatHandler.
//
// # Inputs
//
//   - completer: Answers chat turns. Must not be nil.
//   - policy: Content policy engine. Nil disables the scan.
//   - audit: Receives policy.block events. Nil discards them.
//   - metrics: Chat metrics. May be nil.
func NewChatHandler(
	completer services.Completer,
	policy *policy_engine.PolicyEngine,
	audit extensions.AuditLogger,
	metrics *observability.ChatMetrics,
) *ChatHandler {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &ChatHandler{
		completer: completer,
		policy:    policy,
		audit:     audit,
		metrics:   metrics,
	}
}

// HandleChat answers one chat turn.
//
// # Responses
//
//   - 200 text/plain: The streamed answer.
//   - 400 JSON: Malformed or invalid body.
//   - 401 text/plain: No authenticated caller.
//   - 403 JSON: The latest user message matched a blocking policy rule.
//   - 500 JSON: Credentials or internal failure before streaming.
//   - 502 JSON: Embedding, vector index or model failure before streaming.
//
// A failure after the first chunk closes the connection before the chunked
// body is terminated, so the client's read fails.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "ChatHandler.HandleChat")
	defer span.End()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		middleware.AbortUnauthorized(c)
		return
	}

	var payload datatypes.ConversationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Warn("Failed to parse the chat request", "error", err)
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeValidation)
		h.metrics.RecordRequest(observability.EndpointChat, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := payload.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeValidation)
		h.metrics.RecordRequest(observability.EndpointChat, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("chat.messages", len(payload.Messages)),
		attribute.Bool("chat.preview_token", payload.HasPreviewToken()),
	)

	if findings := h.scan(&payload); len(findings) > 0 {
		slog.Warn("Blocked chat request due to policy violation",
			"user_id", authInfo.UserID, "findings", len(findings))
		h.auditBlock(ctx, authInfo.UserID, findings)
		span.SetStatus(codes.Error, "policy violation")
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodePolicyViolation)
		h.metrics.RecordRequest(observability.EndpointChat, false)
		c.JSON(http.StatusForbidden, gin.H{
			"error":    PolicyViolationMessage,
			"findings": findings,
		})
		return
	}

	writer, err := NewTextStreamWriter(c.Writer)
	if err != nil {
		slog.Error("Streaming not supported", "error", err)
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeInternal)
		h.metrics.RecordRequest(observability.EndpointChat, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	start := time.Now()
	result, err := h.completer.Complete(ctx, &services.CompletionRequest{
		UserID:  authInfo.UserID,
		Payload: &payload,
	}, func(_ context.Context, chunk []byte) error {
		return writer.WriteChunk(chunk)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleCompletionError(c, writer, err, time.Since(start))
		return
	}

	if !writer.Started() {
		// An empty answer still ends the turn with 200 and an empty body.
		SetTextStreamHeaders(c.Writer)
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
	}

	if result.PersistErr != nil {
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodePersistence)
	}
	h.metrics.RecordRequest(observability.EndpointChat, true)
	span.SetAttributes(
		attribute.String("chat.path", string(result.Path)),
		attribute.Int("chat.bytes", writer.BytesWritten()),
	)
}

// handleCompletionError translates a Completer failure into a response.
func (h *ChatHandler) handleCompletionError(c *gin.Context, writer TextStreamWriter, err error, elapsed time.Duration) {
	code := services.ErrorCode(err)
	h.metrics.RecordError(observability.EndpointChat, code)
	h.metrics.RecordRequest(observability.EndpointChat, false)

	if code == observability.ErrorCodeClientDisconnect {
		slog.Info("Client went away during chat", "elapsed", elapsed, "error", err)
		c.Abort()
		return
	}

	if writer.Started() {
		slog.Error("Chat stream aborted after it began",
			"bytes", writer.BytesWritten(), "elapsed", elapsed, "error", err)
		if abortErr := writer.Abort(); abortErr != nil {
			slog.Warn("Could not cut off the chat stream", "error", abortErr)
		}
		c.Abort()
		return
	}

	slog.Error("Chat completion failed", "error_code", code, "error", err)
	c.AbortWithStatusJSON(statusForCompletionError(err), gin.H{"error": publicMessage(err)})
}

// scan returns the blocking findings of the latest user message.
func (h *ChatHandler) scan(payload *datatypes.ConversationPayload) []policy_engine.ScanFinding {
	if h.policy == nil {
		return nil
	}
	i := payload.LatestUserIndex()
	if i < 0 {
		return nil
	}
	return h.policy.Blocking(h.policy.ScanMessage(i, payload.Messages[i].Content))
}

// auditBlock records a policy.block event. The metadata never includes the
// message content.
func (h *ChatHandler) auditBlock(ctx context.Context, userID string, findings []policy_engine.ScanFinding) {
	patterns := make([]string, 0, len(findings))
	var classifications []string
	seen := make(map[string]bool)
	for _, f := range findings {
		patterns = append(patterns, f.PatternId)
		if !seen[f.ClassificationName] {
			seen[f.ClassificationName] = true
			classifications = append(classifications, f.ClassificationName)
		}
	}
	err := h.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "policy.block",
		UserID:       userID,
		Action:       "send",
		ResourceType: "message",
		Outcome:      "blocked",
		Metadata: map[string]any{
			"finding_count":   len(findings),
			"pattern_ids":     patterns,
			"classifications": classifications,
		},
	})
	if err != nil {
		slog.Warn("Failed to write audit event", "event_type", "policy.block", "error", err)
	}
}

// statusForCompletionError maps a failure class to an HTTP status.
func statusForCompletionError(err error) int {
	switch {
	case errors.Is(err, services.ErrEmbedding),
		errors.Is(err, services.ErrVectorQuery),
		errors.Is(err, services.ErrCompletion):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns a client-safe description of err.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrEmbedding):
		return services.ErrEmbedding.Error()
	case errors.Is(err, services.ErrVectorQuery):
		return services.ErrVectorQuery.Error()
	case errors.Is(err, services.ErrCompletion):
		return services.ErrCompletion.Error()
	case errors.Is(err, services.ErrCredentials):
		return services.ErrCredentials.Error()
	default:
		return "internal error"
	}
}
