// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/weaviate/weaviate/entities/models"
)

// Property names of the knowledge base class. TextProperty holds the passage
// that is stuffed into the retrieval prompt.
const (
	TextProperty      = "text"
	SourceProperty    = "source"
	TitleProperty     = "title"
	EipNumberProperty = "eip_number"
)

// DocumentProperties lists the properties requested on every vector query.
func DocumentProperties() []string {
	return []string{TextProperty, SourceProperty, TitleProperty, EipNumberProperty}
}

// GetEipDocumentSchema returns the class holding embedded EIP passages.
//
// # Description
//
// Vectors are produced by the service's own embedding model, so the class
// uses Vectorizer "none" and every object is written with an explicit vector
// by the ingestion job.
//
// # Inputs
//
//   - className: Class name, e.g. "EipDocument".
func GetEipDocumentSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A passage of an Ethereum Improvement Proposal and its embedding.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         TextProperty,
				DataType:     []string{"text"},
				Description:  "The passage text.",
				Tokenization: "word",
			},
			{
				Name:            SourceProperty,
				DataType:        []string{"text"},
				Description:     "URL or path the passage was taken from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         TitleProperty,
				DataType:     []string{"text"},
				Description:  "Title of the proposal.",
				Tokenization: "word",
			},
			{
				Name:            EipNumberProperty,
				DataType:        []string{"int"},
				Description:     "The EIP number, e.g. 1559.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}
