// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate the chat flow,
// separating it from HTTP handlers. Services are responsible for:
//   - Rendering the conversation into prompts (prompt.go)
//   - Choosing between the retrieval and plain answer paths (completion.go)
//   - Running the langchaingo chains that stream the answer (chains.go)
//   - Persisting answered conversations (recorder.go)
//   - Reading and deleting stored chats (history.go)
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/eipchat/services/llm"
	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/vectorindex"
	"github.com/tmc/langchaingo/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// tracer is the OpenTelemetry tracer for the services package.
var tracer = otel.Tracer("eipchat.orchestrator.services")

// DefaultTopK is the number of nearest passages requested from the index.
const DefaultTopK = 5

// Compile-time interface implementation check.
var _ Completer = (*CompletionService)(nil)

// =============================================================================
// Interfaces
// =============================================================================

// CompletionRequest is one authenticated chat turn.
type CompletionRequest struct {
	// UserID owns any session written for this turn. Never empty.
	UserID string

	// Payload is the validated request body.
	Payload *datatypes.ConversationPayload
}

// CompletionResult describes a finished answer.
type CompletionResult struct {
	// Path is the branch that produced the answer.
	Path observability.AnswerPath

	// Completion is the full answer text.
	Completion string

	// Matches is the number of index matches for the current message.
	Matches int

	// Session is the written record. Nil on the retrieval path or when the
	// write failed.
	Session *datatypes.SessionRecord

	// PersistErr is the session write failure, if any. It never fails the
	// turn since the answer has already been streamed.
	PersistErr error
}

// Completer answers a chat turn, streaming the answer as it is generated.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Completer interface {
	// Complete answers req.
	//
	// # Inputs
	//
	//   - ctx: Request context. Cancellation aborts the stream.
	//   - req: Authenticated, validated turn.
	//   - stream: Receives each chunk. An error aborts generation.
	//
	// # Outputs
	//
	//   - *CompletionResult: The finished answer.
	//   - error: Wraps ErrCredentials, ErrEmbedding, ErrVectorQuery or
	//     ErrCompletion; or the context error when the caller went away.
	Complete(ctx context.Context, req *CompletionRequest, stream StreamFunc) (*CompletionResult, error)
}

// =============================================================================
// CompletionService
// =============================================================================

// CompletionService orchestrates one chat turn.
//
// # Description
//
// For each turn:
//  1. Build model collaborators for the request's credential. A preview token
//     in the payload is used for this request only.
//  2. Embed the current message and query the vector index for the nearest
//     DefaultTopK passages.
//  3. With at least one match, answer through the conversational retrieval
//     chain. Nothing is persisted.
//  4. With no match, answer through the conversation template, then persist
//     the conversation plus answer through the SessionRecorder.
//
// Without a vector index (lightweight mode) steps 2 and 3 are skipped and
// every turn takes the plain path.
//
// # Thread Safety
//
// Safe for concurrent use. Credential-bound collaborators are never shared
// between requests.
type CompletionService struct {
	factory  llm.ClientFactory
	index    vectorindex.Index
	runner   ChainRunner
	recorder *SessionRecorder
	metrics  *observability.ChatMetrics
	topK     int
}

// NewCompletionService creates the orchestrator service.
//
// # Inputs
//
//   - factory: Builds model collaborators per credential. Required.
//   - index: Vector index, or nil for lightweight mode.
//   - runner: Chain runner. Required.
//   - recorder: Session recorder. Required.
//   - metrics: Optional; nil disables metrics.
func NewCompletionService(
	factory llm.ClientFactory,
	index vectorindex.Index,
	runner ChainRunner,
	recorder *SessionRecorder,
	metrics *observability.ChatMetrics,
) *CompletionService {
	return &CompletionService{
		factory:  factory,
		index:    index,
		runner:   runner,
		recorder: recorder,
		metrics:  metrics,
		topK:     DefaultTopK,
	}
}

// Complete implements Completer.
func (s *CompletionService) Complete(
	ctx context.Context,
	req *CompletionRequest,
	stream StreamFunc,
) (*CompletionResult, error) {
	ctx, span := tracer.Start(ctx, "CompletionService.Complete")
	defer span.End()

	start := time.Now()
	payload := req.Payload
	span.SetAttributes(
		attribute.Int("chat.messages", len(payload.Messages)),
		attribute.Bool("chat.preview_token", payload.HasPreviewToken()),
		attribute.Bool("vector.enabled", s.index != nil),
	)

	clients, err := s.factory.ForCredential(payload.PreviewToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credentials unavailable")
		return nil, fmt.Errorf("%w: %w", ErrCredentials, err)
	}

	history, input := SplitConversation(payload.Messages)

	path := observability.PathPlain
	matches := 0
	if s.index != nil {
		matches, err = s.lookup(ctx, clients.Embedder, input)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context lookup failed")
			return nil, err
		}
		if matches > 0 {
			path = observability.PathRetrieval
		}
	}
	span.SetAttributes(
		attribute.String("chat.path", string(path)),
		attribute.Int("vector.matches", matches),
	)
	s.metrics.RecordAnswerPath(path)

	relay := s.relay(path, start, stream)
	s.metrics.StreamStarted(path)
	var completion string
	if path == observability.PathRetrieval {
		retriever := vectorindex.NewRetriever(s.index, clients.Embedder, s.topK)
		completion, err = s.runner.RunRetrieval(ctx, clients.Model, retriever, history, input, relay)
	} else {
		completion, err = s.runner.RunPlain(ctx, clients.Model, history, input, relay)
	}
	s.metrics.StreamEnded(path)
	s.metrics.RecordStreamDuration(path, time.Since(start).Seconds(), err == nil)

	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "client disconnected")
			s.metrics.RecordClientDisconnect(path)
			return nil, fmt.Errorf("stream aborted (%v): %w", err, ctxErr)
		}
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	result := &CompletionResult{
		Path:       path,
		Completion: completion,
		Matches:    matches,
	}
	if path == observability.PathPlain {
		result.Session, result.PersistErr = s.recorder.Record(ctx, req.UserID, payload, completion)
		if result.PersistErr != nil {
			span.RecordError(result.PersistErr)
		}
	}

	slog.Info("Chat turn answered",
		"path", string(path),
		"matches", matches,
		"completion_len", len(completion),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// lookup embeds input and returns the number of index matches.
func (s *CompletionService) lookup(ctx context.Context, embedder embeddings.Embedder, input string) (int, error) {
	ctx, span := tracer.Start(ctx, "CompletionService.lookup")
	defer span.End()

	vector, err := embedder.EmbedQuery(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return 0, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	span.SetAttributes(attribute.Int("embedding.dims", len(vector)))

	matches, err := s.index.Query(ctx, vector, s.topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector query failed")
		return 0, fmt.Errorf("%w: %w", ErrVectorQuery, err)
	}
	return len(matches), nil
}

// relay wraps stream with chunk metrics. Chains call it sequentially.
func (s *CompletionService) relay(path observability.AnswerPath, start time.Time, stream StreamFunc) StreamFunc {
	first := true
	return func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if first {
			first = false
			s.metrics.RecordTimeToFirstChunk(path, time.Since(start).Seconds())
		}
		s.metrics.RecordChunk(path)
		if stream == nil {
			return nil
		}
		return stream(ctx, chunk)
	}
}
