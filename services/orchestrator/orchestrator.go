// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the EIP chat service.
//
// This package contains the Service type that wires every component of the
// service together: HTTP routing, the OpenAI model factory, the Weaviate
// passage index, the session store, the content policy engine and the
// observability stack.
//
// # Extension Points
//
// The service supports dependency injection via extensions.ServiceOptions:
//   - AuthProvider: Resolves the caller of every /api request
//   - AuditLogger: Records session writes, deletes and policy blocks
//
// # Usage
//
//	cfg := orchestrator.Config{OpenAIAPIKey: os.Getenv("OPENAI_API_KEY")}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/llm"
	"github.com/AleutianAI/eipchat/services/orchestrator/handlers"
	"github.com/AleutianAI/eipchat/services/orchestrator/observability"
	"github.com/AleutianAI/eipchat/services/orchestrator/routes"
	"github.com/AleutianAI/eipchat/services/orchestrator/services"
	"github.com/AleutianAI/eipchat/services/orchestrator/storage"
	"github.com/AleutianAI/eipchat/services/orchestrator/vectorindex"
	"github.com/AleutianAI/eipchat/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName is reported to the trace collector and otelgin.
const serviceName = "eipchat-orchestrator"

// Session store backends accepted by Config.SessionStore.
const (
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the chat service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a fatal
	// server error. In-flight requests are given Config.ShutdownTimeout to
	// finish, then every resource is released.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases the session store and flushes pending spans. Run calls
	// it on return; callers that never Run must call it themselves.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration.
//
// # Description
//
// Every field is optional except OpenAIAPIKey, which may also come from the
// /run/secrets/openai_api_key file. Zero values are replaced by
// applyConfigDefaults.
//
// # Examples
//
//	// Local development: in-memory sessions, no vector index, no tracing
//	cfg := Config{OpenAIAPIKey: "sk-...", DisableTracing: true}
//
//	// Production
//	cfg := Config{
//	    OpenAIAPIKey:   key,
//	    WeaviateURL:    "https://eips.weaviate.network",
//	    WeaviateAPIKey: weaviateKey,
//	    RedisURL:       "redis://redis:6379/0",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// OpenAIAPIKey is the default model credential. A request's previewToken
	// replaces it for that request only.
	OpenAIAPIKey string

	// OpenAIModel is the chat model. Default: gpt-3.5-turbo
	OpenAIModel string

	// OpenAIEmbeddingModel is the embedding model. Default: text-embedding-ada-002
	OpenAIEmbeddingModel string

	// OpenAIBaseURL points the clients at an OpenAI-compatible API.
	OpenAIBaseURL string

	// WeaviateURL is the passage index URL. If empty, the service runs in
	// lightweight mode and every turn takes the plain path.
	WeaviateURL string

	// WeaviateAPIKey authenticates against the index.
	WeaviateAPIKey string

	// WeaviateClassName is the class holding the passages. Default: EipDocument
	WeaviateClassName string

	// SessionStore selects the backend: "redis" or "badger".
	// Default: "redis" when RedisURL is set, "badger" otherwise.
	SessionStore string

	// RedisURL is the redis:// URL of the session store.
	RedisURL string

	// BadgerPath is the Badger directory. Empty keeps sessions in memory.
	BadgerPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "otel-collector:4317"
	OTelEndpoint string

	// DisableTracing skips the OTLP exporter setup.
	DisableTracing bool

	// DisablePolicyScan turns off the content policy check.
	DisablePolicyScan bool

	// MetricsRegisterer receives the chat metrics.
	// Default: the Prometheus default registerer, served at /metrics.
	MetricsRegisterer prometheus.Registerer

	// GinMode sets the Gin framework mode: "debug", "release" or "test".
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// StartupTimeout bounds the dependency checks in New. Default: 15s
	StartupTimeout time.Duration

	// ShutdownTimeout bounds the graceful shutdown in Run. Default: 10s
	ShutdownTimeout time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration
//   - opts: Extension options
//   - router: Gin HTTP engine
//   - store: Session store, closed on shutdown
//   - index: Passage index, nil in lightweight mode
//   - policyEngine: Content policy, nil when disabled
//   - metrics: Chat metrics
//   - tracerCleanup: Flushes the span exporter
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	store         storage.SessionStore
	index         *vectorindex.WeaviateIndex
	policyEngine  *policy_engine.PolicyEngine
	metrics       *observability.ChatMetrics
	tracerCleanup func(context.Context)
	closeOnce     sync.Once
	closeErr      error
}

// defaultMetricsOnce guards registration with the default registerer.
var defaultMetricsOnce sync.Once

// =============================================================================
// Constructor
// =============================================================================

// New creates the chat Service.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Creates the OpenAI client factory
//  5. Opens the session store and bootstraps the Weaviate class concurrently
//  6. Loads the content policy
//  7. Sets up HTTP routes with extension options
//
// A Weaviate failure is not fatal: the service falls back to lightweight
// mode. A session store failure is.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if initialization fails
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	if !s.config.DisableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.initMetrics()

	factory, err := llm.NewOpenAIFactory(llm.OpenAIConfig{
		APIKey:         s.config.OpenAIAPIKey,
		Model:          s.config.OpenAIModel,
		EmbeddingModel: s.config.OpenAIEmbeddingModel,
		BaseURL:        s.config.OpenAIBaseURL,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize model clients: %w", err)
	}

	if err := s.initDependencies(); err != nil {
		_ = s.Close()
		return nil, err
	}

	if !s.config.DisablePolicyScan {
		s.policyEngine, err = policy_engine.NewPolicyEngine()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
		}
	} else {
		slog.Warn("Content policy scan disabled")
	}

	s.initRouter(factory)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer func() { _ = s.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	slog.Info("Starting chat server", "port", s.config.Port)
	return s.serve(ctx, ln)
}

// Router returns the underlying Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases the session store and flushes the tracer. Safe to call more
// than once.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				slog.Warn("Session store close error", "error", err)
				s.closeErr = err
			}
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
	})
	return s.closeErr
}

// serve runs the HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func (s *service) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down chat server", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = llm.DefaultChatModel
	}
	if cfg.OpenAIEmbeddingModel == "" {
		cfg.OpenAIEmbeddingModel = llm.DefaultEmbeddingModel
	}
	if cfg.WeaviateClassName == "" {
		cfg.WeaviateClassName = vectorindex.DefaultClassName
	}
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	if cfg.SessionStore == "" {
		if cfg.RedisURL != "" {
			cfg.SessionStore = StoreRedis
		} else {
			cfg.SessionStore = StoreBadger
		}
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "otel-collector:4317"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
// The gRPC connection is lazy, so an unreachable collector does not fail
// startup; spans are dropped until it becomes reachable.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}

	return cleanup, nil
}

// initMetrics creates the chat metrics on the configured registerer.
func (s *service) initMetrics() {
	if s.config.MetricsRegisterer != nil {
		s.metrics = observability.NewChatMetrics(s.config.MetricsRegisterer)
		return
	}
	defaultMetricsOnce.Do(func() {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for chat streaming")
	})
	s.metrics = observability.DefaultMetrics
}

// initDependencies opens the session store and bootstraps the passage index
// concurrently.
//
// # Description
//
// Both checks share Config.StartupTimeout. A store failure cancels the
// Weaviate bootstrap and fails startup. A Weaviate failure only logs and
// leaves the service in lightweight mode.
func (s *service) initDependencies() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StartupTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	var store storage.SessionStore
	g.Go(func() error {
		var err error
		store, err = s.openStore(gCtx)
		return err
	})

	var index *vectorindex.WeaviateIndex
	g.Go(func() error {
		index = s.openIndex(gCtx)
		return nil
	})

	err := g.Wait()
	s.store = store
	if err != nil {
		return err
	}
	s.index = index
	return nil
}

// openStore opens the configured session store backend.
func (s *service) openStore(ctx context.Context) (storage.SessionStore, error) {
	switch s.config.SessionStore {
	case StoreRedis:
		if s.config.RedisURL == "" {
			return nil, errors.New("session store redis requires REDIS_URL")
		}
		store, err := storage.NewRedisStore(ctx, s.config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis session store: %w", err)
		}
		return store, nil

	case StoreBadger:
		bcfg := storage.InMemoryBadgerConfig()
		if s.config.BadgerPath != "" {
			bcfg = storage.DefaultBadgerConfig(s.config.BadgerPath)
		}
		bcfg.Logger = slog.Default()
		store, err := storage.OpenBadgerStore(bcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger session store: %w", err)
		}
		slog.Info("Opened Badger session store",
			"path", s.config.BadgerPath, "in_memory", bcfg.InMemory)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session store %q (want %q or %q)",
			s.config.SessionStore, StoreRedis, StoreBadger)
	}
}

// openIndex connects to Weaviate and ensures the passage class exists.
// Returns nil in lightweight mode.
func (s *service) openIndex(ctx context.Context) *vectorindex.WeaviateIndex {
	if strings.Trim(s.config.WeaviateURL, "\"' ") == "" {
		slog.Info("Weaviate URL not configured, running in lightweight mode")
		return nil
	}

	index, err := vectorindex.NewWeaviateIndex(vectorindex.WeaviateConfig{
		URL:       s.config.WeaviateURL,
		APIKey:    s.config.WeaviateAPIKey,
		ClassName: s.config.WeaviateClassName,
	})
	if err != nil {
		slog.Warn("Weaviate initialization failed, running in lightweight mode", "error", err)
		return nil
	}
	if err := index.EnsureSchema(ctx); err != nil {
		slog.Warn("Weaviate schema bootstrap failed, running in lightweight mode", "error", err)
		return nil
	}
	return index
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(factory llm.ClientFactory) {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	// A nil *WeaviateIndex must not become a non-nil Index interface.
	var index vectorindex.Index
	if s.index != nil {
		index = s.index
	}

	recorder := services.NewSessionRecorder(s.store, s.opts.AuditLogger, s.metrics)
	completer := services.NewCompletionService(factory, index, services.NewLangChainRunner(), recorder, s.metrics)
	history := services.NewHistoryService(s.store, s.opts.AuditLogger)

	routes.SetupRoutes(s.router, routes.Dependencies{
		Chat:     handlers.NewChatHandler(completer, s.policyEngine, s.opts.AuditLogger, s.metrics),
		Sessions: handlers.NewSessionsHandler(history, s.metrics),
		Store:    s.store,
	}, s.opts)
}
