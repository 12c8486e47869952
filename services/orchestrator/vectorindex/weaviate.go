// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorindex queries the hosted vector index holding EIP passages.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("eipchat.orchestrator.vectorindex")

// DefaultClassName is the class queried when none is configured.
const DefaultClassName = "EipDocument"

// Index finds the stored vectors nearest to a query vector.
type Index interface {
	// Query returns at most topK matches ordered by decreasing similarity,
	// each with its stored properties and raw vector. An empty result is not
	// an error.
	Query(ctx context.Context, vector []float32, topK int) ([]datatypes.VectorMatch, error)
}

// WeaviateConfig locates the index.
type WeaviateConfig struct {
	// URL is the service base URL, e.g. "https://eips.weaviate.network".
	URL string

	// APIKey is sent as a bearer token. Optional for unauthenticated clusters.
	APIKey string

	// ClassName is the class holding the passages.
	ClassName string
}

// WeaviateIndex is an Index backed by a Weaviate class.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
	props     []string
}

// NewWeaviateIndex creates a client for cfg.
//
// # Description
//
// No request is made here; connectivity problems surface on the first Query
// or EnsureSchema call.
//
// # Outputs
//
//   - *WeaviateIndex: The index handle.
//   - error: Non-nil if the URL is not an absolute http(s) URL.
func NewWeaviateIndex(cfg WeaviateConfig) (*WeaviateIndex, error) {
	raw := strings.Trim(cfg.URL, "\"' ")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || !strings.HasPrefix(parsed.Scheme, "http") {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", raw)
	}

	clientConf := weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	}
	if cfg.APIKey != "" {
		clientConf.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	client, err := weaviate.NewClient(clientConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	className := cfg.ClassName
	if className == "" {
		className = DefaultClassName
	}
	slog.Info("Weaviate client initialized", "url", raw, "class", className, "api_key_set", cfg.APIKey != "")
	return &WeaviateIndex{
		client:    client,
		className: className,
		props:     datatypes.DocumentProperties(),
	}, nil
}

// ClassName returns the queried class.
func (w *WeaviateIndex) ClassName() string {
	return w.className
}

// Query runs a nearVector search.
func (w *WeaviateIndex) Query(ctx context.Context, vector []float32, topK int) ([]datatypes.VectorMatch, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("weaviate.class", w.className),
		attribute.Int("weaviate.top_k", topK),
		attribute.Int("weaviate.dimensions", len(vector)),
	)

	fields := make([]graphql.Field, 0, len(w.props)+1)
	for _, p := range w.props {
		fields = append(fields, graphql.Field{Name: p})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
		{Name: "vector"},
	}})

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	matches, err := datatypes.ParseVectorMatches(result, w.className)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate response invalid")
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	span.SetAttributes(attribute.Int("weaviate.matches", len(matches)))
	slog.Debug("Vector query completed", "class", w.className, "matches", len(matches))
	return matches, nil
}

// EnsureSchema creates the passage class if it does not exist yet.
//
// An existing class is left untouched, even if its properties differ.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	class := datatypes.GetEipDocumentSchema(w.className)

	if _, err := w.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}

var _ Index = (*WeaviateIndex)(nil)
