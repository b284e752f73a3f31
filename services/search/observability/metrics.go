// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the search service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring search traffic:
//   - Request counters and latency by outcome
//   - Per-index query counters and latency
//   - Access gate rejections
//   - Degraded responses (some indexes missing)
//
// # Integration
//
// Metrics are exposed via /metrics. Each SearchMetrics owns the registry it
// was created with, so several services can live in one process.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for search metrics
const searchSubsystem = "search"

// Outcome labels a finished search request.
type Outcome string

const (
	// OutcomeSuccess is a rendered result page, degraded or not.
	OutcomeSuccess Outcome = "success"

	// OutcomeInvalidQuery is a request with a missing or blank query.
	OutcomeInvalidQuery Outcome = "invalid_query"

	// OutcomeUnauthorized is a request rejected by the access gate.
	OutcomeUnauthorized Outcome = "unauthorized"

	// OutcomeUnavailable is a request where every index failed.
	OutcomeUnavailable Outcome = "unavailable"

	// OutcomeRateLimited is a request rejected by the rate limiter.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeError is any other failure.
	OutcomeError Outcome = "error"
)

// Index query status labels.
const (
	statusSuccess = "success"
	statusTimeout = "timeout"
	statusError   = "error"
)

// SearchMetrics holds all Prometheus metrics for the search service.
//
// # Fields
//
//   - RequestsTotal: Counter of search requests by outcome
//   - RequestDurationSeconds: Histogram of request latency by outcome
//   - IndexSearchesTotal: Counter of per-index queries by index and status
//   - IndexSearchDurationSeconds: Histogram of per-index query latency
//   - AuthRejectionsTotal: Counter of access gate rejections
//   - DegradedResponsesTotal: Counter of responses missing at least one index
//   - ResultsReturned: Histogram of merged result counts
//
// # Thread Safety
//
// All operations are thread-safe.
type SearchMetrics struct {
	// RequestsTotal counts search requests by outcome.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end request latency.
	RequestDurationSeconds *prometheus.HistogramVec

	// IndexSearchesTotal counts per-index queries.
	// Labels: index, status (success, timeout, error)
	IndexSearchesTotal *prometheus.CounterVec

	// IndexSearchDurationSeconds measures per-index query latency.
	IndexSearchDurationSeconds *prometheus.HistogramVec

	// AuthRejectionsTotal counts requests rejected by the access gate.
	AuthRejectionsTotal prometheus.Counter

	// DegradedResponsesTotal counts responses rendered without every index.
	DegradedResponsesTotal prometheus.Counter

	// ResultsReturned measures how many merged records a response carries.
	ResultsReturned prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewSearchMetrics creates and registers all search metrics on a fresh
// registry that also carries the Go runtime and process collectors.
//
// # Examples
//
//	metrics := observability.NewSearchMetrics()
//	router.GET("/metrics", gin.WrapH(metrics.Handler()))
func NewSearchMetrics() *SearchMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewSearchMetricsWith(reg, reg)
}

// NewSearchMetricsWith registers the search metrics on reg and serves them
// from gatherer.
//
// # Limitations
//
//   - Panics if the metrics are already registered on reg.
func NewSearchMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *SearchMetrics {
	factory := promauto.With(reg)

	return &SearchMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "requests_total",
				Help:      "Total number of search requests by outcome",
			},
			[]string{"outcome"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Search request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		IndexSearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "index_queries_total",
				Help:      "Total per-index queries by index and status",
			},
			[]string{"index", "status"},
		),

		IndexSearchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "index_query_duration_seconds",
				Help:      "Per-index query duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"index"},
		),

		AuthRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "auth_rejections_total",
				Help:      "Total requests rejected by the access gate",
			},
		),

		DegradedResponsesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "degraded_responses_total",
				Help:      "Total responses rendered with at least one index missing",
			},
		),

		ResultsReturned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "results_returned",
				Help:      "Number of merged records per response",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),

		gatherer: gatherer,
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// Handler serves the registry in the Prometheus exposition format.
func (m *SearchMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest records a finished search request.
//
// # Inputs
//
//   - outcome: How the request ended.
//   - seconds: End-to-end duration in seconds.
func (m *SearchMetrics) RecordRequest(outcome Outcome, seconds float64) {
	m.RequestsTotal.WithLabelValues(string(outcome)).Inc()
	m.RequestDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// RecordAuthRejection increments the gate rejection counter.
func (m *SearchMetrics) RecordAuthRejection() {
	m.AuthRejectionsTotal.Inc()
}

// RecordResults records a rendered result page.
//
// # Inputs
//
//   - count: Number of merged records shown.
//   - degraded: Whether at least one index was missing.
func (m *SearchMetrics) RecordResults(count int, degraded bool) {
	m.ResultsReturned.Observe(float64(count))
	if degraded {
		m.DegradedResponsesTotal.Inc()
	}
}

// ObserveIndexSearch records one per-index query. Timeouts are counted
// separately from other failures.
func (m *SearchMetrics) ObserveIndexSearch(index string, seconds float64, err error) {
	status := statusSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = statusTimeout
	default:
		status = statusError
	}
	m.IndexSearchesTotal.WithLabelValues(index, status).Inc()
	m.IndexSearchDurationSeconds.WithLabelValues(index).Observe(seconds)
}
