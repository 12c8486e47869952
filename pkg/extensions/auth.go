// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgrijalva/jwt-go"
)

// ErrUnauthorized is returned when no caller identity can be resolved.
// Providers wrap it with the concrete reason:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity resolved for a request.
//
// UserID is always populated on a successful Validate. It owns every chat
// session written on behalf of the request, so it is also the key suffix of the
// per-user session index.
type AuthInfo struct {
	// UserID is the stable identifier of the caller. Never empty.
	UserID string

	// Email is optional and only set when the token carries it.
	Email string

	// Roles lists role memberships, e.g. "admin" or "viewer".
	Roles []string
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider resolves a bearer token into a caller identity.
//
// Implementations must be safe for concurrent use. An unresolvable identity
// must be reported as ErrUnauthorized (wrapped or bare) so the HTTP layer can
// answer 401 without touching any downstream collaborator.
type AuthProvider interface {
	// Validate checks token and returns the caller identity.
	//
	// Parameters:
	//   - ctx: Request context
	//   - token: Raw bearer token, possibly empty
	//
	// Returns:
	//   - *AuthInfo: The resolved identity
	//   - error: ErrUnauthorized (or wrapped) when no identity resolves
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a single local user.
//
// It is the default when no token secret is configured, so a developer can run
// the service on a laptop without an identity provider.
type NopAuthProvider struct{}

// Validate ignores the token and returns "local-user" with admin privileges.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// JWTAuthProvider validates HS256-signed JSON Web Tokens.
//
// # Description
//
// The token's "sub" claim becomes AuthInfo.UserID. Optional "email" and
// "roles" claims are copied when present. Expired tokens, tokens signed with
// any other algorithm and tokens without a subject are all rejected with
// ErrUnauthorized.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type JWTAuthProvider struct {
	secret []byte
}

// NewJWTAuthProvider creates a provider that verifies tokens against secret.
//
// # Inputs
//
//   - secret: Shared HMAC key. Must not be empty.
//
// # Outputs
//
//   - *JWTAuthProvider: Ready to use provider
//   - error: Non-nil if secret is empty
func NewJWTAuthProvider(secret string) (*JWTAuthProvider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTAuthProvider{secret: []byte(secret)}, nil
}

// Validate parses and verifies token.
func (p *JWTAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, ErrUnauthorized)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type: %w", ErrUnauthorized)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token has no subject: %w", ErrUnauthorized)
	}

	info := &AuthInfo{UserID: sub}
	if email, ok := claims["email"].(string); ok {
		info.Email = email
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				info.Roles = append(info.Roles, s)
			}
		}
	}
	return info, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*JWTAuthProvider)(nil)
)
