// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrStreamNotAbortable is returned by Abort when the connection under the
// response writer cannot be taken over.
var ErrStreamNotAbortable = errors.New("response connection cannot be aborted")

// =============================================================================
// Interface Definition
// =============================================================================

// TextStreamWriter writes a plain-text answer to the client chunk by chunk.
//
// # Description
//
// The response body is the raw concatenation of the chunks, with no
// framing. Headers are committed on the first chunk, so a handler can still
// answer with a JSON error as long as nothing has been written.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TextStreamWriter interface {
	// WriteChunk writes chunk and flushes it to the client.
	//
	// # Inputs
	//
	//   - chunk: Answer bytes. Empty chunks are ignored.
	//
	// # Outputs
	//
	//   - error: Non-nil if the connection rejected the write.
	WriteChunk(chunk []byte) error

	// Started reports whether the status line and headers were sent.
	Started() bool

	// BytesWritten returns the number of body bytes written so far.
	BytesWritten() int

	// Abort closes the connection without ending the chunked body, so the
	// client sees a failed transfer instead of a complete answer.
	//
	// # Outputs
	//
	//   - error: ErrStreamNotAbortable if no writer in the chain is an
	//     http.Hijacker, or the hijack/close error.
	Abort() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// textStreamWriter implements TextStreamWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher for immediate send
//   - started: Headers have been committed
//   - written: Body bytes written
//   - mu: Mutex for thread-safe writes
type textStreamWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	started bool
	written int
	mu      sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewTextStreamWriter creates a TextStreamWriter for w.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - TextStreamWriter: Ready to write chunks.
//   - error: Non-nil if w doesn't support flushing.
//
// # Examples
//
//	writer, err := NewTextStreamWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
//	    return
//	}
//	writer.WriteChunk([]byte("Hello"))
func NewTextStreamWriter(w http.ResponseWriter) (TextStreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &textStreamWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteChunk writes chunk, committing the stream headers first if needed.
func (w *textStreamWriter) WriteChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		SetTextStreamHeaders(w.writer)
		w.writer.WriteHeader(http.StatusOK)
		w.started = true
	}

	n, err := w.writer.Write(chunk)
	w.written += n
	if err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Started reports whether headers were committed.
func (w *textStreamWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// BytesWritten returns the body bytes written so far.
func (w *textStreamWriter) BytesWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Abort hijacks the raw connection and closes it.
//
// gin's writer refuses to hijack once a byte is written, so the chain is
// unwrapped down to the net/http writer, which flushes the pending chunk and
// hands over the connection without writing the terminating chunk.
func (w *textStreamWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rw := w.writer
	for {
		u, ok := rw.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			break
		}
		rw = u.Unwrap()
	}

	hijacker, ok := rw.(http.Hijacker)
	if !ok {
		return ErrStreamNotAbortable
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		return fmt.Errorf("hijack connection: %w", err)
	}
	return conn.Close()
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetTextStreamHeaders sets the headers of a streamed plain-text answer.
//
// # Description
//
//   - Content-Type: text/plain; charset=utf-8
//   - Cache-Control: no-cache (intermediaries must not store partial answers)
//   - X-Accel-Buffering: no (nginx must pass chunks through immediately)
func SetTextStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

// Compile-time interface check.
var _ TextStreamWriter = (*textStreamWriter)(nil)
