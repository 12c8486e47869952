// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the chat
// orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for the chat endpoints. Metrics
// include:
//   - Request counters (by endpoint and status)
//   - Answer path counters (retrieval or plain)
//   - Latency histograms (time to first chunk, total stream duration)
//   - Active stream gauges
//   - Error counters (by endpoint and error code)
//   - Session write counters (by result)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *ChatMetrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "eipchat"

// Subsystem for chat metrics
const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for the chat endpoints.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring streamed answers,
// collaborator failures and session persistence. Initialize once at startup
// via InitMetrics(), or per test via NewChatMetrics with a private registry.
//
// # Fields
//
//   - RequestsTotal: Counter of requests by endpoint and status
//   - AnswerPathsTotal: Counter of answers by path (retrieval, plain)
//   - ChunksTotal: Counter of streamed chunks by path
//   - TimeToFirstChunkSeconds: Histogram of time to first chunk
//   - StreamDurationSeconds: Histogram of total stream duration
//   - ActiveStreams: Gauge of currently active streams
//   - ErrorsTotal: Counter of errors by endpoint and code
//   - SessionWritesTotal: Counter of session writes by result
//   - ClientDisconnectsTotal: Counter of streams cut short by the caller
//
// # Thread Safety
//
// All operations are thread-safe.
type ChatMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (chat, chats_list, chat_get, chat_delete), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// AnswerPathsTotal counts answers by the branch that produced them.
	// Labels: path (retrieval, plain)
	AnswerPathsTotal *prometheus.CounterVec

	// ChunksTotal counts chunks relayed to callers.
	// Labels: path
	ChunksTotal *prometheus.CounterVec

	// TimeToFirstChunkSeconds measures latency to the first relayed chunk.
	// Labels: path
	TimeToFirstChunkSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: path, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open answer streams.
	// Labels: path
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and code.
	// Labels: endpoint, error_code (policy_violation, embedding, completion, etc.)
	ErrorsTotal *prometheus.CounterVec

	// SessionWritesTotal counts session record writes.
	// Labels: result (success, error)
	SessionWritesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts callers that went away mid-stream.
	// Labels: path
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance registered by InitMetrics().
var DefaultMetrics *ChatMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates all metrics and registers them with the Prometheus default
// registerer. Should be called once at application startup.
//
// # Outputs
//
//   - *ChatMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *ChatMetrics {
	DefaultMetrics = NewChatMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewChatMetrics creates all metrics and registers them with reg.
//
// # Inputs
//
//   - reg: Target registerer. A nil reg creates unregistered metrics.
//
// # Outputs
//
//   - *ChatMetrics: The initialized metrics instance.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	m := observability.NewChatMetrics(reg)
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)

	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		AnswerPathsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "answer_paths_total",
				Help:      "Total answers by path (retrieval or plain)",
			},
			[]string{"path"},
		),

		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "chunks_total",
				Help:      "Total streamed chunks relayed to callers",
			},
			[]string{"path"},
		),

		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first relayed chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"path"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"path", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open answer streams",
			},
			[]string{"path"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),

		SessionWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "session_writes_total",
				Help:      "Total session record writes by result",
			},
			[]string{"result"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"path"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodePolicyViolation indicates blocked due to policy scan.
	ErrorCodePolicyViolation ErrorCode = "policy_violation"

	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates a missing or foreign chat session.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeEmbedding indicates the embedding collaborator failed.
	ErrorCodeEmbedding ErrorCode = "embedding"

	// ErrorCodeVectorQuery indicates the vector index query failed.
	ErrorCodeVectorQuery ErrorCode = "vector_query"

	// ErrorCodeCompletion indicates the chat model failed.
	ErrorCodeCompletion ErrorCode = "completion"

	// ErrorCodePersistence indicates the session store failed.
	ErrorCodePersistence ErrorCode = "persistence"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Label Values
// =============================================================================

// Endpoint represents an HTTP endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChat is POST /api/chat.
	EndpointChat Endpoint = "chat"

	// EndpointChatsList is GET /api/chats.
	EndpointChatsList Endpoint = "chats_list"

	// EndpointChatGet is GET /api/chats/:id.
	EndpointChatGet Endpoint = "chat_get"

	// EndpointChatDelete is DELETE /api/chats/:id.
	EndpointChatDelete Endpoint = "chat_delete"
)

// AnswerPath names the branch that produced an answer.
type AnswerPath string

const (
	// PathRetrieval answers with retrieved EIP context and records nothing.
	PathRetrieval AnswerPath = "retrieval"

	// PathPlain answers from the conversation alone and records the session.
	PathPlain AnswerPath = "plain"
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *ChatMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records an error.
//
// # Inputs
//
//   - endpoint: The endpoint where the error occurred.
//   - code: The error type code.
func (m *ChatMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordAnswerPath counts one answer produced by path.
func (m *ChatMetrics) RecordAnswerPath(path AnswerPath) {
	if m == nil {
		return
	}
	m.AnswerPathsTotal.WithLabelValues(string(path)).Inc()
}

// RecordChunk counts one relayed chunk.
func (m *ChatMetrics) RecordChunk(path AnswerPath) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(string(path)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *ChatMetrics) StreamStarted(path AnswerPath) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(path)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ChatMetrics) StreamEnded(path AnswerPath) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(path)).Dec()
}

// RecordTimeToFirstChunk records the time to first chunk latency.
//
// # Inputs
//
//   - path: The answer path.
//   - seconds: Time to first chunk in seconds.
func (m *ChatMetrics) RecordTimeToFirstChunk(path AnswerPath, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.WithLabelValues(string(path)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
//
// # Inputs
//
//   - path: The answer path.
//   - seconds: Total duration in seconds.
//   - success: Whether the stream completed successfully.
func (m *ChatMetrics) RecordStreamDuration(path AnswerPath, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(path), statusLabel(success)).Observe(seconds)
}

// RecordSessionWrite counts one session record write.
func (m *ChatMetrics) RecordSessionWrite(success bool) {
	if m == nil {
		return
	}
	m.SessionWritesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *ChatMetrics) RecordClientDisconnect(path AnswerPath) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(path)).Inc()
}
