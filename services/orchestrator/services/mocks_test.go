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
	"strings"
	"sync"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/llm"
	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// =============================================================================
// Mock chat model
// =============================================================================

// fakeModel implements llms.Model. It answers every prompt with the result
// of Respond and streams the answer word by word when a streaming func is
// configured.
type fakeModel struct {
	mu           sync.Mutex
	Respond      func(prompt string) (string, error)
	Prompts      []string
	Temperatures []float64
	Streamed     []bool
}

func (m *fakeModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}

	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt.String())
	m.Temperatures = append(m.Temperatures, opts.Temperature)
	m.Streamed = append(m.Streamed, opts.StreamingFunc != nil)
	respond := m.Respond
	m.mu.Unlock()

	answer := "ok"
	if respond != nil {
		var err error
		answer, err = respond(prompt.String())
		if err != nil {
			return nil, err
		}
	}

	if opts.StreamingFunc != nil {
		for _, chunk := range splitChunks(answer) {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *fakeModel) prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Prompts...)
}

// splitChunks splits s after each space so the chunks concatenate to s.
func splitChunks(s string) []string {
	var chunks []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			chunks = append(chunks, s)
			break
		}
		chunks = append(chunks, s[:i+1])
		s = s[i+1:]
	}
	return chunks
}

// =============================================================================
// Mock embedder, index and retriever
// =============================================================================

type fakeEmbedder struct {
	mu      sync.Mutex
	Err     error
	Queries []string
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Queries = append(e.Queries, text)
	if e.Err != nil {
		return nil, e.Err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	Matches []datatypes.VectorMatch
	Err     error
	Calls   int
	TopK    int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int) ([]datatypes.VectorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.TopK = topK
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Matches, nil
}

type fakeRetriever struct {
	Docs    []schema.Document
	Err     error
	Queries []string
}

func (r *fakeRetriever) GetRelevantDocuments(_ context.Context, query string) ([]schema.Document, error) {
	r.Queries = append(r.Queries, query)
	return r.Docs, r.Err
}

// =============================================================================
// Mock client factory
// =============================================================================

type fakeFactory struct {
	mu          sync.Mutex
	Model       llms.Model
	Embedder    *fakeEmbedder
	Err         error
	Credentials []string
}

func (f *fakeFactory) ForCredential(apiKey string) (*llm.Clients, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Credentials = append(f.Credentials, apiKey)
	if f.Err != nil {
		return nil, f.Err
	}
	cred := apiKey
	if cred == "" {
		cred = "default-key"
	}
	return &llm.Clients{Embedder: f.Embedder, Model: f.Model, Credential: cred}, nil
}

// =============================================================================
// Mock chain runner
// =============================================================================

type runnerCall struct {
	Path     string
	History  string
	Input    string
	Model    llms.Model
	HasIndex bool
}

type fakeRunner struct {
	mu     sync.Mutex
	Answer string
	Err    error
	Calls  []runnerCall
}

func (r *fakeRunner) run(ctx context.Context, call runnerCall, stream StreamFunc) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	r.mu.Unlock()

	for _, chunk := range splitChunks(r.Answer) {
		if err := stream(ctx, []byte(chunk)); err != nil {
			return "", err
		}
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Answer, nil
}

func (r *fakeRunner) RunPlain(ctx context.Context, model llms.Model, history, input string, stream StreamFunc) (string, error) {
	return r.run(ctx, runnerCall{Path: "plain", History: history, Input: input, Model: model}, stream)
}

func (r *fakeRunner) RunRetrieval(
	ctx context.Context,
	model llms.Model,
	retriever schema.Retriever,
	history, question string,
	stream StreamFunc,
) (string, error) {
	return r.run(ctx, runnerCall{
		Path: "retrieval", History: history, Input: question, Model: model, HasIndex: retriever != nil,
	}, stream)
}

// =============================================================================
// Mock session store and audit logger
// =============================================================================

type fakeStore struct {
	mu      sync.Mutex
	Records map[string]*datatypes.SessionRecord
	SaveErr error
	Saves   int
	Deletes int
	ListErr error
	GetErr  error
	DelErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{Records: make(map[string]*datatypes.SessionRecord)}
}

func (s *fakeStore) SaveSession(_ context.Context, rec *datatypes.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Records[rec.ID] = rec
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, id string) (*datatypes.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec, ok := s.Records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) ListUserSessions(_ context.Context, userID string, _ int) ([]datatypes.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []datatypes.SessionSummary
	for _, rec := range s.Records {
		if rec.UserID == userID {
			out = append(out, rec.Summary())
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteSession(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deletes++
	if s.DelErr != nil {
		return s.DelErr
	}
	rec, ok := s.Records[id]
	if !ok || rec.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.Records, id)
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

type recordingAudit struct {
	mu     sync.Mutex
	Events []extensions.AuditEvent
}

func (a *recordingAudit) Log(_ context.Context, event extensions.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Events = append(a.Events, event)
	return nil
}

var errBoom = errors.New("boom")

var (
	_ llms.Model             = (*fakeModel)(nil)
	_ storage.SessionStore   = (*fakeStore)(nil)
	_ llm.ClientFactory      = (*fakeFactory)(nil)
	_ ChainRunner            = (*fakeRunner)(nil)
	_ schema.Retriever       = (*fakeRetriever)(nil)
	_ extensions.AuditLogger = (*recordingAudit)(nil)
)
