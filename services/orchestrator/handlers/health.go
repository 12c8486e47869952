// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthTimeout bounds each dependency ping.
const healthTimeout = 2 * time.Second

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth reports whether the session store is reachable.
//
// Responds 200 {"status":"healthy"} or 503 {"status":"unhealthy"}.
func HandleHealth(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			slog.Warn("Health check failed", "dependency", "session_store", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"store":  "unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}
