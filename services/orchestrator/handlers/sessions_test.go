// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/services"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHistory implements ChatHistory over a fixed set of records.
type mockHistory struct {
	Records   map[string]*datatypes.SessionRecord
	Err       error
	LastLimit int
	Calls     int
}

func (m *mockHistory) List(_ context.Context, userID string, limit int) ([]datatypes.SessionSummary, error) {
	m.Calls++
	m.LastLimit = limit
	if m.Err != nil {
		return nil, m.Err
	}
	var out []datatypes.SessionSummary
	for _, rec := range m.Records {
		if rec.UserID == userID {
			out = append(out, rec.Summary())
		}
	}
	return out, nil
}

func (m *mockHistory) Get(_ context.Context, userID, id string) (*datatypes.SessionRecord, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	rec, ok := m.Records[id]
	if !ok || rec.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (m *mockHistory) Delete(_ context.Context, userID, id string) error {
	m.Calls++
	if m.Err != nil {
		return m.Err
	}
	rec, ok := m.Records[id]
	if !ok || rec.UserID != userID {
		return storage.ErrNotFound
	}
	delete(m.Records, id)
	return nil
}

func newMockHistory() *mockHistory {
	return &mockHistory{Records: map[string]*datatypes.SessionRecord{
		"a": {
			ID: "a", UserID: "alice", Title: "What is EIP-1?", Path: "/chat/a", CreatedAt: 10,
			Messages: []datatypes.ChatMessage{
				{Role: datatypes.RoleUser, Content: "What is EIP-1?"},
				{Role: datatypes.RoleAssistant, Content: "EIP purpose"},
			},
		},
		"b": {ID: "b", UserID: "bob", Title: "EIP-20", Path: "/chat/b", CreatedAt: 20},
	}}
}

func TestListChats(t *testing.T) {
	history := newMockHistory()
	metrics := observability.NewChatMetrics(prometheus.NewRegistry())
	router := createTestRouter(&fixedAuthProvider{UserID: "alice"}, http.MethodGet, "/chats",
		NewSessionsHandler(history, metrics).ListChats)

	w := performRequest(router, http.MethodGet, "/api/chats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Chats []datatypes.SessionSummary `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, "a", resp.Chats[0].ID)
	assert.Equal(t, storage.DefaultListLimit, history.LastLimit)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("chats_list", "success")))
}

func TestListChats_EmptyIsArray(t *testing.T) {
	router := createTestRouter(&fixedAuthProvider{UserID: "carol"}, http.MethodGet, "/chats",
		NewSessionsHandler(newMockHistory(), nil).ListChats)

	w := performRequest(router, http.MethodGet, "/api/chats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chats":[]}`, w.Body.String())
}

func TestListChats_Limit(t *testing.T) {
	tests := []struct {
		query      string
		wantStatus int
		wantLimit  int
	}{
		{query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{query: "?limit=200", wantStatus: http.StatusOK, wantLimit: 200},
		{query: "?limit=0", wantStatus: http.StatusBadRequest},
		{query: "?limit=201", wantStatus: http.StatusBadRequest},
		{query: "?limit=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			history := newMockHistory()
			router := createTestRouter(&fixedAuthProvider{UserID: "alice"}, http.MethodGet, "/chats",
				NewSessionsHandler(history, nil).ListChats)

			w := performRequest(router, http.MethodGet, "/api/chats"+tt.query, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantLimit, history.LastLimit)
			} else {
				assert.Zero(t, history.Calls)
			}
		})
	}
}

func TestGetChat(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "own chat", path: "/api/chats/a", wantStatus: http.StatusOK},
		{name: "foreign chat", path: "/api/chats/b", wantStatus: http.StatusNotFound},
		{name: "missing chat", path: "/api/chats/zzz", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter(&fixedAuthProvider{UserID: "alice"}, http.MethodGet, "/chats/:id",
				NewSessionsHandler(newMockHistory(), nil).GetChat)

			w := performRequest(router, http.MethodGet, tt.path, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var rec datatypes.SessionRecord
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
				assert.Equal(t, "a", rec.ID)
				assert.Len(t, rec.Messages, 2)
			} else {
				assert.JSONEq(t, `{"error":"chat not found"}`, w.Body.String())
			}
		})
	}
}

func TestDeleteChat(t *testing.T) {
	history := newMockHistory()
	metrics := observability.NewChatMetrics(prometheus.NewRegistry())
	router := createTestRouter(&fixedAuthProvider{UserID: "alice"}, http.MethodDelete, "/chats/:id",
		NewSessionsHandler(history, metrics).DeleteChat)

	w := performRequest(router, http.MethodDelete, "/api/chats/b", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, history.Records, "b")

	w = performRequest(router, http.MethodDelete, "/api/chats/a", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, history.Records, "a")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("chat_delete", "not_found")))
}

func TestSessionsHandler_StoreFailure(t *testing.T) {
	history := newMockHistory()
	history.Err = errors.Join(services.ErrPersistence, errors.New("connection refused"))
	metrics := observability.NewChatMetrics(prometheus.NewRegistry())
	h := NewSessionsHandler(history, metrics)

	router := createTestRouter(&fixedAuthProvider{UserID: "alice"}, http.MethodGet, "/chats", h.ListChats)
	w := performRequest(router, http.MethodGet, "/api/chats", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("chats_list", "persistence")))
}

func TestSessionsHandler_Unauthorized(t *testing.T) {
	history := newMockHistory()
	h := NewSessionsHandler(history, nil)

	for _, tc := range []struct {
		method, route, path string
		handler             gin.HandlerFunc
	}{
		{http.MethodGet, "/chats", "/api/chats", h.ListChats},
		{http.MethodGet, "/chats/:id", "/api/chats/a", h.GetChat},
		{http.MethodDelete, "/chats/:id", "/api/chats/a", h.DeleteChat},
	} {
		router := createTestRouter(&fixedAuthProvider{}, tc.method, tc.route, tc.handler)
		w := performRequest(router, tc.method, tc.path, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
	}
	assert.Zero(t, history.Calls)
	assert.Contains(t, history.Records, "a")
}

// =============================================================================
// Health Tests
// =============================================================================

type mockPinger struct{ Err error }

func (p *mockPinger) Ping(context.Context) error { return p.Err }

func TestHandleHealth(t *testing.T) {
	router := gin.New()
	router.GET("/health", HandleHealth(&mockPinger{}))
	w := performRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	router = gin.New()
	router.GET("/health", HandleHealth(&mockPinger{Err: errors.New("down")}))
	w = performRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
