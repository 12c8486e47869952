// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable collaborators of the chat service.
//
// The service never talks to an identity provider or an audit sink directly.
// It receives implementations of the interfaces below through ServiceOptions,
// and falls back to no-op defaults when a field is nil.
//
//   - auth.go: caller identity resolution (AuthProvider)
//   - audit.go: audit trail of session writes and policy blocks (AuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions()
//	if secret != "" {
//	    provider, err := extensions.NewJWTAuthProvider(secret)
//	    ...
//	    opts = opts.WithAuth(provider)
//	}
//	svc, err := orchestrator.New(cfg, &opts)
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points of the service.
type ServiceOptions struct {
	// AuthProvider resolves the caller identity.
	// Default: NopAuthProvider
	AuthProvider AuthProvider

	// AuditLogger records session writes, deletes and policy blocks.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Normalize fills nil fields with their no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
