// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// rank orders confidence levels; unknown levels rank below Low.
func (c ConfidenceLevel) rank() int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is as confident as min or more.
func (c ConfidenceLevel) AtLeast(min ConfidenceLevel) bool {
	return c.rank() >= min.rank()
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

type RuleFile struct {
	Classifications []Classification `yaml:"classifications"`
}

type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
	compiled    *regexp.Regexp
}

func (f *RuleFile) CompileRegexes() error {
	for i := range f.Classifications {
		for j := range f.Classifications[i].Patterns {
			p := &f.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile pattern %s: %w", p.Id, err)
			}
			p.compiled = re
		}
	}
	return nil
}

func (f *RuleFile) SortByPriority() {
	sort.SliceStable(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
}

// ScanFinding is one pattern hit inside a chat message.
//
// MatchedContent is redacted; the raw secret never leaves the engine.
type ScanFinding struct {
	MessageIndex       int             `json:"message_index"`
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
