// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/llm"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// testConfig returns a config that needs no external service.
func testConfig() Config {
	return Config{
		OpenAIAPIKey:      "sk-test",
		SessionStore:      StoreBadger,
		DisableTracing:    true,
		MetricsRegisterer: prometheus.NewRegistry(),
		StartupTimeout:    5 * time.Second,
	}
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, "gpt-3.5-turbo", result.OpenAIModel)
	assert.Equal(t, llm.DefaultEmbeddingModel, result.OpenAIEmbeddingModel)
	assert.Equal(t, "EipDocument", result.WeaviateClassName)
	assert.Equal(t, StoreBadger, result.SessionStore, "no redis url means badger")
	assert.Equal(t, "otel-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 15*time.Second, result.StartupTimeout)
	assert.Equal(t, 10*time.Second, result.ShutdownTimeout)
	assert.False(t, result.DisablePolicyScan, "policy scan is on by default")
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:              8080,
		OpenAIModel:       "gpt-4o-mini",
		WeaviateClassName: "Proposal",
		SessionStore:      " Redis ",
		OTelEndpoint:      "collector:4317",
		ShutdownTimeout:   time.Second,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "gpt-4o-mini", result.OpenAIModel)
	assert.Equal(t, "Proposal", result.WeaviateClassName)
	assert.Equal(t, StoreRedis, result.SessionStore, "backend name is normalized")
	assert.Equal(t, "collector:4317", result.OTelEndpoint)
	assert.Equal(t, time.Second, result.ShutdownTimeout)
}

// TestApplyConfigDefaults_TableDriven tests the session store selection.
func TestApplyConfigDefaults_TableDriven(t *testing.T) {
	tests := []struct {
		name      string
		input     Config
		wantStore string
	}{
		{name: "nothing set", input: Config{}, wantStore: StoreBadger},
		{name: "redis url implies redis", input: Config{RedisURL: "redis://localhost:6379"}, wantStore: StoreRedis},
		{name: "explicit badger wins", input: Config{RedisURL: "redis://x", SessionStore: "badger"}, wantStore: StoreBadger},
		{name: "badger path alone", input: Config{BadgerPath: "/data"}, wantStore: StoreBadger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStore, applyConfigDefaults(tt.input).SessionStore)
		})
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_Lightweight(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	defer svc.Close()

	impl := svc.(*service)
	assert.Nil(t, impl.index, "no weaviate url means lightweight mode")
	assert.NotNil(t, impl.policyEngine)
	assert.NotNil(t, svc.Router())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_MissingAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""

	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
}

func TestNew_UnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStore = "memcached"

	_, err := New(cfg, nil)
	assert.ErrorContains(t, err, "unknown session store")
}

func TestNew_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.SessionStore = ""
	cfg.RedisURL = "redis://" + mr.Addr()

	svc, err := New(cfg, nil)
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.SessionStore = StoreRedis
	cfg.RedisURL = "redis://127.0.0.1:1"
	cfg.StartupTimeout = time.Second

	_, err := New(cfg, nil)
	assert.ErrorContains(t, err, "redis")
}

func TestNew_InvalidWeaviateURLFallsBackToLightweight(t *testing.T) {
	cfg := testConfig()
	cfg.WeaviateURL = "not a url"

	svc, err := New(cfg, nil)
	require.NoError(t, err)
	defer svc.Close()

	assert.Nil(t, svc.(*service).index)
}

func TestNew_PolicyScanDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DisablePolicyScan = true

	svc, err := New(cfg, nil)
	require.NoError(t, err)
	defer svc.Close()

	assert.Nil(t, svc.(*service).policyEngine)
}

// TestServiceOptions_WithCustomProviders verifies injected providers are used.
func TestServiceOptions_WithCustomProviders(t *testing.T) {
	provider, err := extensions.NewJWTAuthProvider("secret")
	require.NoError(t, err)
	opts := extensions.DefaultOptions().WithAuth(provider)

	svc, err := New(testConfig(), &opts)
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/chats", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "requests without a token are rejected")
}

// TestServiceOptions_WithNilUseDefaults verifies nil options fall back to
// the local-user provider.
func TestServiceOptions_WithNilUseDefaults(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/chats", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chats":[]}`, w.Body.String())
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestServe_GracefulShutdown(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	impl := svc.(*service)
	defer impl.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- impl.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestClose_Idempotent(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

// TestServiceImplementsInterface verifies service satisfies Service.
func TestServiceImplementsInterface(t *testing.T) {
	var _ Service = (*service)(nil)
}

// BenchmarkApplyConfigDefaults measures config default application performance.
func BenchmarkApplyConfigDefaults(b *testing.B) {
	cfg := Config{Port: 8080}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = applyConfigDefaults(cfg)
	}
}

func ExampleConfig_minimal() {
	cfg := applyConfigDefaults(Config{})
	fmt.Println(cfg.Port, cfg.SessionStore)
	// Output: 12210 badger
}
