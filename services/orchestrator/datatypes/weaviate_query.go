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
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Weaviate returns query results as a dynamic map. This function round-trips
// resp.Data through JSON into T, so callers can describe the expected shape
// with struct tags. GraphQL level errors in resp.Errors are returned as an
// error even when Data is partially populated.
//
// # Type Parameters
//
//   - T: The target type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed value.
//   - error: Non-nil if resp is nil, carries errors, or does not fit T.
//
// # Limitations
//
//   - Type mismatches inside compatible shapes yield zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Vector Query Types
// =============================================================================

// VectorMatch is one nearest-neighbour hit from the vector index.
//
// Matches are consumed while choosing the answer path and are never persisted.
type VectorMatch struct {
	// ID is the object UUID in the index.
	ID string `json:"id"`

	// Score is the certainty reported by the index, in [0, 1].
	Score float64 `json:"score"`

	// Metadata holds every stored property of the object, including its text.
	Metadata map[string]any `json:"metadata"`

	// Values is the raw stored vector.
	Values []float32 `json:"values,omitempty"`
}

// Text returns the metadata property textKey as a string, or "".
func (m VectorMatch) Text(textKey string) string {
	s, _ := m.Metadata[textKey].(string)
	return s
}

// nearVectorResponse is the shape of a Get query for an arbitrary class.
type nearVectorResponse struct {
	Get map[string][]map[string]json.RawMessage `json:"Get"`
}

type additionalFields struct {
	ID        string    `json:"id"`
	Certainty *float64  `json:"certainty"`
	Distance  *float64  `json:"distance"`
	Vector    []float32 `json:"vector"`
}

// ParseVectorMatches extracts the hits for className from a nearVector query.
//
// # Inputs
//
//   - resp: Response of a Get query that requested _additional { id certainty vector }.
//   - className: The queried class.
//
// # Outputs
//
//   - []VectorMatch: Hits in index order, empty (not nil) when there are none.
//   - error: Non-nil on GraphQL errors or malformed objects.
func ParseVectorMatches(resp *models.GraphQLResponse, className string) ([]VectorMatch, error) {
	parsed, err := ParseGraphQLResponse[nearVectorResponse](resp)
	if err != nil {
		return nil, err
	}

	objects := parsed.Get[className]
	matches := make([]VectorMatch, 0, len(objects))
	for i, obj := range objects {
		match := VectorMatch{Metadata: make(map[string]any, len(obj))}
		for key, raw := range obj {
			if key == "_additional" {
				var add additionalFields
				if err := json.Unmarshal(raw, &add); err != nil {
					return nil, fmt.Errorf("object %d: invalid _additional: %w", i, err)
				}
				match.ID = add.ID
				match.Values = add.Vector
				switch {
				case add.Certainty != nil:
					match.Score = *add.Certainty
				case add.Distance != nil:
					match.Score = 1 - *add.Distance
				}
				continue
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("object %d: invalid property %q: %w", i, key, err)
			}
			match.Metadata[key] = v
		}
		matches = append(matches, match)
	}
	return matches, nil
}
