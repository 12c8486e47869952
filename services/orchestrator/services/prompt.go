// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"strings"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/prompts"
)

// persona opens both answer templates.
const persona = `You are a Senior Blockchain Developer who has great knowledge about Ethereum Improvement Proposals.
You are helping people about Ethereum, Solidity, EIP's etc. If you don't have the asked information, just say the truth.`

// Template variable names.
const (
	VarChatHistory = "chat_history"
	VarInput       = "input"
	VarContext     = "context"
	VarQuestion    = "question"
)

// ConversationTemplate answers from the conversation alone.
const ConversationTemplate = persona + `

Current conversation:
{chat_history}

User: {input}
AI:`

// RetrievalTemplate answers from retrieved EIP passages. Chat history reaches
// it only through the condensed question.
const RetrievalTemplate = persona + `
Use the following excerpts from Ethereum Improvement Proposals to answer the question at the end.

{context}

User: {question}
AI:`

// NewConversationPrompt returns the plain path prompt.
func NewConversationPrompt() prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       ConversationTemplate,
		InputVariables: []string{VarChatHistory, VarInput},
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

// NewRetrievalPrompt returns the prompt of the retrieval path's combine step.
func NewRetrievalPrompt() prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       RetrievalTemplate,
		InputVariables: []string{VarContext, VarQuestion},
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

// FormatMessage renders one message as "role: content".
func FormatMessage(m datatypes.ChatMessage) string {
	return string(m.Role) + ": " + m.Content
}

// FormatHistory renders msgs in order, one per line.
func FormatHistory(msgs []datatypes.ChatMessage) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = FormatMessage(m)
	}
	return strings.Join(lines, "\n")
}

// CurrentInput returns the content of the last message, or "" for an empty
// conversation.
func CurrentInput(msgs []datatypes.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// SplitConversation returns the rendered history of every message but the
// last, and the last message's content.
//
// # Examples
//
//	history, input := SplitConversation([]datatypes.ChatMessage{
//	    {Role: "user", Content: "A"},
//	    {Role: "assistant", Content: "B"},
//	    {Role: "user", Content: "C"},
//	})
//	// history == "user: A\nassistant: B", input == "C"
func SplitConversation(msgs []datatypes.ChatMessage) (history, input string) {
	if len(msgs) == 0 {
		return "", ""
	}
	return FormatHistory(msgs[:len(msgs)-1]), CurrentInput(msgs)
}
