// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Sampling temperatures of the two answer paths.
const (
	DefaultPlainTemperature     = 0.8
	DefaultRetrievalTemperature = 0.7
)

// StreamFunc receives each generated chunk in order. Returning an error
// aborts generation.
type StreamFunc func(ctx context.Context, chunk []byte) error

// ChainRunner runs the two answer chains against a request-bound model.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; every per-request
// collaborator arrives as an argument.
type ChainRunner interface {
	// RunPlain answers input given the rendered history.
	//
	// # Outputs
	//
	//   - string: The full completion, equal to the concatenated chunks
	//   - error: Non-nil if the model failed or stream returned an error
	RunPlain(ctx context.Context, model llms.Model, history, input string, stream StreamFunc) (string, error)

	// RunRetrieval answers question from passages fetched by retriever,
	// condensing question against history first when history is non-empty.
	// Only the final answer is streamed.
	RunRetrieval(ctx context.Context, model llms.Model, retriever schema.Retriever, history, question string, stream StreamFunc) (string, error)
}

// LangChainRunner implements ChainRunner with langchaingo chains.
type LangChainRunner struct {
	PlainTemperature     float64
	RetrievalTemperature float64
}

// NewLangChainRunner returns a runner with the default temperatures.
func NewLangChainRunner() *LangChainRunner {
	return &LangChainRunner{
		PlainTemperature:     DefaultPlainTemperature,
		RetrievalTemperature: DefaultRetrievalTemperature,
	}
}

// RunPlain pipes the conversation template into the model.
func (r *LangChainRunner) RunPlain(
	ctx context.Context,
	model llms.Model,
	history, input string,
	stream StreamFunc,
) (string, error) {
	ctx, span := tracer.Start(ctx, "LangChainRunner.RunPlain")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("llm.temperature", r.PlainTemperature),
		attribute.Int("prompt.history_len", len(history)),
	)

	chain := chains.NewLLMChain(model, NewConversationPrompt())
	answer, err := chains.Predict(ctx, chain,
		map[string]any{
			VarChatHistory: history,
			VarInput:       input,
		},
		chains.WithTemperature(r.PlainTemperature),
		chains.WithStreamingFunc(stream),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plain chain failed")
		return "", err
	}
	return answer, nil
}

// RunRetrieval runs a conversational retrieval chain: condense the question
// against history, fetch passages, then stuff them into the retrieval
// template. The condense step samples at RetrievalTemperature too, since the
// chain does not forward call options to it.
func (r *LangChainRunner) RunRetrieval(
	ctx context.Context,
	model llms.Model,
	retriever schema.Retriever,
	history, question string,
	stream StreamFunc,
) (string, error) {
	ctx, span := tracer.Start(ctx, "LangChainRunner.RunRetrieval")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("llm.temperature", r.RetrievalTemperature),
		attribute.Int("prompt.history_len", len(history)),
	)

	chain := chains.NewConversationalRetrievalQA(
		chains.NewStuffDocuments(chains.NewLLMChain(model, NewRetrievalPrompt())),
		chains.LoadCondenseQuestionGenerator(temperatureModel{Model: model, temperature: r.RetrievalTemperature}),
		retriever,
		&historyMemory{key: VarChatHistory, history: history},
	)

	answer, err := chains.Predict(ctx, chain,
		map[string]any{VarQuestion: question},
		chains.WithTemperature(r.RetrievalTemperature),
		chains.WithStreamingFunc(stream),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval chain failed")
		return "", err
	}
	return answer, nil
}

// temperatureModel samples at temperature unless the caller sets one.
type temperatureModel struct {
	llms.Model
	temperature float64
}

func (m temperatureModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	opts := append([]llms.CallOption{llms.WithTemperature(m.temperature)}, options...)
	return m.Model.GenerateContent(ctx, messages, opts...)
}

func (m temperatureModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// historyMemory hands a fixed, already rendered history to a chain. The
// conversation lives in the request, so nothing is saved.
type historyMemory struct {
	key     string
	history string
}

func (m *historyMemory) GetMemoryKey(context.Context) string { return m.key }

func (m *historyMemory) MemoryVariables(context.Context) []string { return []string{m.key} }

func (m *historyMemory) LoadMemoryVariables(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{m.key: m.history}, nil
}

func (m *historyMemory) SaveContext(context.Context, map[string]any, map[string]any) error {
	return nil
}

func (m *historyMemory) Clear(context.Context) error { return nil }

var (
	_ ChainRunner   = (*LangChainRunner)(nil)
	_ llms.Model    = temperatureModel{}
	_ schema.Memory = (*historyMemory)(nil)
)
