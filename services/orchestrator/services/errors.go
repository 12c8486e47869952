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

	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
)

// Collaborator failure classes. Errors returned by this package wrap exactly
// one of them together with the underlying cause.
var (
	// ErrEmbedding is returned when the embedding collaborator fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrVectorQuery is returned when the vector index query fails.
	ErrVectorQuery = errors.New("vector query failed")

	// ErrCompletion is returned when the chat model or a chain fails.
	ErrCompletion = errors.New("completion failed")

	// ErrPersistence is returned when the session store fails.
	ErrPersistence = errors.New("session persistence failed")

	// ErrCredentials is returned when no model credential can be resolved.
	ErrCredentials = errors.New("model credentials unavailable")
)

// ErrorCode maps err to the metrics error code of its failure class.
func ErrorCode(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, context.Canceled):
		return observability.ErrorCodeClientDisconnect
	case errors.Is(err, ErrEmbedding):
		return observability.ErrorCodeEmbedding
	case errors.Is(err, ErrVectorQuery):
		return observability.ErrorCodeVectorQuery
	case errors.Is(err, ErrCompletion):
		return observability.ErrorCodeCompletion
	case errors.Is(err, storage.ErrNotFound):
		return observability.ErrorCodeNotFound
	case errors.Is(err, ErrPersistence):
		return observability.ErrorCodePersistence
	default:
		return observability.ErrorCodeInternal
	}
}
