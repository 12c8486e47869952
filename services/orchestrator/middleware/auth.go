// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the chat service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │      │
//	   │      └─► no identity: 401 "Unauthorized", request ends here
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// The request body is never read before the caller is identified, so an
// unauthenticated request reaches neither the model nor the session store.
//
// # Local Behavior
//
// With NopAuthProvider (the default when no JWT secret is configured) every
// request is authenticated as "local-user".
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
const authInfoKey = "eipchat_auth_info"

// UnauthorizedBody is the plain-text body of every 401 response.
const UnauthorizedBody = "Unauthorized"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//   - info: Authenticated user information. May be nil.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// # Description
//
// Returns nil if no AuthInfo is present (request not authenticated) or the
// stored value has the wrong type.
//
// # Examples
//
//	func (h *ChatHandler) HandleChat(c *gin.Context) {
//	    authInfo := middleware.GetAuthInfo(c)
//	    if authInfo == nil {
//	        middleware.AbortUnauthorized(c)
//	        return
//	    }
//	    // Use authInfo.UserID
//	}
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AbortUnauthorized ends the request with 401 and a plain-text body.
func AbortUnauthorized(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.AbortWithStatus(http.StatusUnauthorized)
	_, _ = c.Writer.WriteString(UnauthorizedBody)
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// using the provided AuthProvider, and stores the resulting AuthInfo
// in the context for downstream handlers. Any validation error, and any
// identity without a UserID, ends the request with 401 "Unauthorized".
//
// # Inputs
//
//   - provider: AuthProvider to validate tokens. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	api := router.Group("/api")
//	api.Use(middleware.AuthMiddleware(opts.AuthProvider))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, extensions.ErrUnauthorized) {
				slog.Warn("Auth provider failed", "path", c.FullPath(), "error", err)
			}
			AbortUnauthorized(c)
			return
		}
		if authInfo == nil || authInfo.UserID == "" {
			AbortUnauthorized(c)
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// # Description
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if header is missing or malformed. The "Bearer"
// prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
