// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search provides the password-gated multi-index search service.
//
// The service coordinates the access gate, the fan-out searcher over the
// configured indexes, HTML rendering and observability.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := search.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/auth"
	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/AleutianAI/AleutianSearch/services/search/handlers"
	"github.com/AleutianAI/AleutianSearch/services/search/observability"
	"github.com/AleutianAI/AleutianSearch/services/search/routes"
	"github.com/AleutianAI/AleutianSearch/services/search/views"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName identifies the service in traces.
const serviceName = "search-service"

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// stdoutTraceEndpoint selects the stdout span exporter instead of OTLP.
const stdoutTraceEndpoint = "stdout"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the lifecycle of the search service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT, SIGTERM or a
	// server error. In-flight requests are given shutdownTimeout to finish.
	Run() error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine

	// Close releases providers and the tracer without running the server.
	Close()
}

// Options override collaborators of the service.
//
// # Fields
//
//   - Pipeline: Overrides provider construction. See PipelineOptions.
type Options struct {
	Pipeline PipelineOptions
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Validated configuration.
//   - router: Gin HTTP engine.
//   - pipeline: Providers, tag catalog and searcher.
//   - metrics: Prometheus metrics. Nil when disabled.
//   - tracerCleanup: Shuts down the trace exporter. Nil when tracing is off.
type service struct {
	config        *config.Config
	router        *gin.Engine
	pipeline      *Pipeline
	gate          *auth.Gate
	metrics       *observability.SearchMetrics
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates the search Service.
//
// # Description
//
// New initializes the service components in order:
//  1. OpenTelemetry tracing, when an OTLP endpoint is configured
//  2. Prometheus metrics, when enabled
//  3. The access gate from the configured argon2id hash
//  4. Providers, tag catalog and fan-out searcher
//  5. Templates and HTTP routes
//
// # Inputs
//
//   - cfg: Validated configuration, typically from config.Load.
//   - opts: Optional overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready to run.
//   - error: Non-nil if any component fails to initialize. Components
//     created before the failure are released.
func New(cfg *config.Config, opts *Options) (Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	s := &service{config: cfg}

	if cfg.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if cfg.MetricsEnabled {
		s.metrics = observability.NewSearchMetrics()
		slog.Info("Initialized Prometheus metrics for search")
	}

	gate, err := auth.NewGate(cfg.PasswordHash)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize access gate: %w", err)
	}
	s.gate = gate

	pipelineOpts := opts.Pipeline
	if s.metrics != nil && pipelineOpts.Recorder == nil {
		pipelineOpts.Recorder = s.metrics
	}
	s.pipeline, err = NewPipeline(cfg, pipelineOpts)
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := s.initRouter(); err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("Search service initialized",
		"indexes", s.pipeline.Searcher.Names(),
		"k", cfg.K,
		"n", cfg.N,
		"failure_policy", cfg.FailurePolicy)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.config.TagWatch && s.pipeline.Tags != nil {
		if err := s.pipeline.Tags.Watch(ctx); err != nil {
			slog.Warn("Tag catalog hot reload disabled", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting search server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down search server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Router returns the underlying Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases all resources held by the service.
func (s *service) Close() {
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			slog.Warn("Provider close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown.
//   - error: Non-nil if tracer setup fails.
//
// # Limitations
//
//   - Uses an insecure gRPC connection, intended for an in-cluster collector.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	traceExporter, closeExporter, err := s.newSpanExporter(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		closeExporter()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		closeExporter()
	}

	slog.Info("Tracing enabled", "endpoint", s.config.OTelEndpoint)
	return cleanup, nil
}

// newSpanExporter returns the exporter selected by the OTel endpoint:
// pretty-printed spans on stdout for "stdout", OTLP over gRPC otherwise.
// The returned func releases exporter resources not owned by the
// provider.
func (s *service) newSpanExporter(ctx context.Context) (sdktrace.SpanExporter, func(), error) {
	if s.config.OTelEndpoint == stdoutTraceEndpoint {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, func() {}, nil
	}

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	closeConn := func() {
		if err := conn.Close(); err != nil {
			slog.Warn("failed to close OTLP connection", "error", err)
		}
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		closeConn()
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exporter, closeConn, nil
}

// initRouter creates the Gin engine, loads templates and registers routes.
func (s *service) initRouter() error {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	tmpl, err := views.Load()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	if s.tracerCleanup != nil {
		s.router.Use(otelgin.Middleware(serviceName))
	}
	s.router.SetHTMLTemplate(tmpl)

	routes.SetupRoutes(s.router, routes.Dependencies{
		Searcher:  s.pipeline.Searcher,
		Gate:      s.gate,
		Metrics:   s.metrics,
		Limits:    handlers.Limits{K: s.config.K, N: s.config.N},
		RateLimit: s.config.RateLimit,
		RateBurst: s.config.RateBurst,
	})
	return nil
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
