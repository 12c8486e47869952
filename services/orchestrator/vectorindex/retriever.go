// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorindex

import (
	"context"
	"fmt"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

// Retriever adapts an Index and an embedder to langchaingo's schema.Retriever.
//
// # Description
//
// GetRelevantDocuments embeds the query with the request's embedder, runs a
// nearest-neighbour search and converts each match into a schema.Document
// whose PageContent is the match's text property. Matches without text are
// dropped since they cannot contribute context to a prompt.
//
// The embedder is bound to the caller's credential, so a Retriever is built
// per request.
type Retriever struct {
	index    Index
	embedder embeddings.Embedder
	topK     int
	textKey  string
}

// NewRetriever returns a retriever fetching topK passages per query.
func NewRetriever(index Index, embedder embeddings.Embedder, topK int) *Retriever {
	return &Retriever{
		index:    index,
		embedder: embedder,
		topK:     topK,
		textKey:  datatypes.TextProperty,
	}
}

// GetRelevantDocuments implements schema.Retriever.
func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, vector, r.topK)
	if err != nil {
		return nil, err
	}
	return MatchesToDocuments(matches, r.textKey), nil
}

// MatchesToDocuments converts matches to documents, dropping those without
// text. The text property is removed from the document metadata.
func MatchesToDocuments(matches []datatypes.VectorMatch, textKey string) []schema.Document {
	docs := make([]schema.Document, 0, len(matches))
	for _, m := range matches {
		text := m.Text(textKey)
		if text == "" {
			continue
		}
		meta := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			if k != textKey {
				meta[k] = v
			}
		}
		if m.ID != "" {
			meta["id"] = m.ID
		}
		docs = append(docs, schema.Document{
			PageContent: text,
			Metadata:    meta,
			Score:       float32(m.Score),
		})
	}
	return docs
}

var _ schema.Retriever = (*Retriever)(nil)
