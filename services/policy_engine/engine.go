// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/eipchat/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// DefaultBlockThreshold is the lowest confidence that blocks a chat request.
const DefaultBlockThreshold = Medium

// PolicyEngine scans chat content for secrets using the embedded rules.
//
// The engine is immutable after construction and safe for concurrent use.
type PolicyEngine struct {
	Classifiers    []Classification
	BlockThreshold ConfidenceLevel
}

// NewPolicyEngine loads the rules embedded by the enforcement package.
//
// It unmarshals the YAML, compiles every pattern and sorts classifications
// from highest to lowest priority. It fails on malformed YAML, unknown
// confidence levels or invalid regular expressions.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.DataClassificationPatterns)
}

// NewPolicyEngineFromYAML builds an engine from an explicit rule document.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var rules RuleFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if err := rules.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	rules.SortByPriority()

	return &PolicyEngine{
		Classifiers:    rules.Classifications,
		BlockThreshold: DefaultBlockThreshold,
	}, nil
}

// ScanMessage checks every line of content against every pattern.
//
// messageIndex is copied into each finding so the caller can point at the
// offending message of a conversation.
func (e *PolicyEngine) ScanMessage(messageIndex int, content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, classifier := range e.Classifiers {
			for _, p := range classifier.Patterns {
				match := p.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					MessageIndex:       messageIndex,
					LineNumber:         lineNum + 1,
					MatchedContent:     redact(strings.TrimSpace(match)),
					ClassificationName: classifier.Name,
					PatternId:          p.Id,
					PatternDescription: p.Description,
					Confidence:         p.Confidence,
				})
			}
		}
	}
	return findings
}

// Blocking returns the findings at or above the engine's block threshold.
func (e *PolicyEngine) Blocking(findings []ScanFinding) []ScanFinding {
	var out []ScanFinding
	for _, f := range findings {
		if f.Confidence.AtLeast(e.BlockThreshold) {
			out = append(out, f)
		}
	}
	return out
}

// redact keeps a short prefix so the user can recognise what was caught.
func redact(s string) string {
	const keep = 6
	r := []rune(s)
	if len(r) <= keep {
		return strings.Repeat("*", len(r))
	}
	return string(r[:keep]) + "****"
}
