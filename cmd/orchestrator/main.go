// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the EIP chat HTTP server.
//
// It reads configuration from environment variables, optionally preloaded
// from a .env file in the working directory, and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - OPENAI_API_KEY: Default model credential (or /run/secrets/openai_api_key)
//   - OPENAI_MODEL: Chat model (default: gpt-3.5-turbo)
//   - OPENAI_EMBEDDING_MODEL: Embedding model (default: text-embedding-ada-002)
//   - OPENAI_BASE_URL: OpenAI-compatible API base URL (optional)
//   - WEAVIATE_SERVICE_URL: Passage index URL (optional, lightweight mode if unset)
//   - WEAVIATE_API_KEY: Passage index credential (optional)
//   - WEAVIATE_INDEX_NAME: Passage class (default: EipDocument)
//   - SESSION_STORE: redis or badger (default: redis when REDIS_URL is set)
//   - REDIS_URL: Redis session store URL
//   - BADGER_PATH: Badger directory (default: in memory)
//   - AUTH_JWT_SECRET: HS256 secret; when unset every caller is "local-user"
//   - POLICY_SCAN_ENABLED: Content policy scan (default: true)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: otel-collector:4317)
//   - OTEL_SDK_DISABLED: Disable tracing (default: false)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - LOG_DIR: Also append JSON logs to a dated file in this directory (optional)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/pkg/logging"
	"github.com/AleutianAI/eipchat/services/orchestrator"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is normal outside local development.
	envErr := godotenv.Load()

	appLogger, logErr := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "orchestrator",
		JSON:    true,
		LogDir:  os.Getenv("LOG_DIR"),
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)
	if logErr != nil {
		slog.Warn("File logging disabled", "error", logErr)
	}
	if envErr == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg := orchestrator.Config{
		Port:                 getEnvInt("ORCHESTRATOR_PORT", 12210),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
		OpenAIEmbeddingModel: os.Getenv("OPENAI_EMBEDDING_MODEL"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		WeaviateURL:          os.Getenv("WEAVIATE_SERVICE_URL"),
		WeaviateAPIKey:       os.Getenv("WEAVIATE_API_KEY"),
		WeaviateClassName:    os.Getenv("WEAVIATE_INDEX_NAME"),
		SessionStore:         os.Getenv("SESSION_STORE"),
		RedisURL:             os.Getenv("REDIS_URL"),
		BadgerPath:           os.Getenv("BADGER_PATH"),
		OTelEndpoint:         getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317"),
		DisableTracing:       getEnvBool("OTEL_SDK_DISABLED", false),
		DisablePolicyScan:    !getEnvBool("POLICY_SCAN_ENABLED", true),
		GinMode:              os.Getenv("GIN_MODE"),
	}

	opts := extensions.DefaultOptions().
		WithAudit(extensions.NewSlogAuditLogger(logger))
	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		provider, err := extensions.NewJWTAuthProvider(secret)
		if err != nil {
			log.Fatalf("Failed to create JWT auth provider: %v", err)
		}
		opts = opts.WithAuth(provider)
		slog.Info("JWT authentication enabled")
	} else {
		slog.Warn("AUTH_JWT_SECRET not set, every caller is authenticated as local-user")
	}

	slog.Info("Starting EIP chat orchestrator",
		"port", cfg.Port,
		"weaviate_url", cfg.WeaviateURL,
		"session_store", cfg.SessionStore,
		"policy_scan", !cfg.DisablePolicyScan,
	)

	svc, err := orchestrator.New(cfg, &opts)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until SIGINT/SIGTERM)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
