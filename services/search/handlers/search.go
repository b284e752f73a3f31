// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the search service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/AleutianAI/AleutianSearch/services/search/middleware"
	"github.com/AleutianAI/AleutianSearch/services/search/observability"
	"github.com/AleutianAI/AleutianSearch/services/search/retrieval"
	"github.com/AleutianAI/AleutianSearch/services/search/views"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var searchTracer = otel.Tracer("aleutian.search.handlers")

// Error page messages.
const (
	MessageUnavailable = "Search is temporarily unavailable, please try again later"
	MessageInternal    = "Something went wrong while searching"
)

// =============================================================================
// Interfaces
// =============================================================================

// SearchRunner runs the fan-out search. *retrieval.Searcher implements it.
type SearchRunner interface {
	Search(ctx context.Context, query string, k, n int) (*retrieval.SearchOutcome, error)
	Names() []string
}

// Recorder receives request outcomes. *observability.SearchMetrics
// implements it.
type Recorder interface {
	RecordRequest(outcome observability.Outcome, seconds float64)
	RecordResults(count int, degraded bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(observability.Outcome, float64) {}
func (nopRecorder) RecordResults(int, bool)                      {}

// Limits are the per-request result sizes.
//
//   - K: Results requested from each index.
//   - N: Results shown after merging.
type Limits struct {
	K int
	N int
}

// =============================================================================
// Handlers
// =============================================================================

// IndexPage renders the empty search form for GET / and GET /search.
func IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, views.PageIndex, datatypes.FormPage{})
}

// Search handles POST /search once the form passed the gate.
//
// # Description
//
// Runs the query against every configured index, merges the best N
// records and renders the results page. The password is echoed into the
// form so the user can refine the query without retyping it. Indexes that
// failed under the degrade policy are listed on the page.
//
// # Inputs
//
//   - runner: Fan-out searcher.
//   - limits: K per index and N overall.
//   - recorder: Request metrics. May be nil.
//
// # Outputs
//
//   - 200 with the results page, possibly with no documents.
//   - 400 when the query is rejected by the searcher.
//   - 503 when no index answered, or one failed under the fail policy.
//   - 500 when the form was not bound by the middleware chain.
//
// # Assumptions
//
//   - middleware.BindSearchForm and middleware.PasswordGate ran first.
func Search(runner SearchRunner, limits Limits, recorder Recorder) gin.HandlerFunc {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := searchTracer.Start(c.Request.Context(), "Search")
		defer span.End()

		form, ok := middleware.GetSearchForm(c)
		if !ok {
			err := errors.New("search form not bound")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Search handler reached without a bound form")
			recorder.RecordRequest(observability.OutcomeError, time.Since(start).Seconds())
			c.HTML(http.StatusInternalServerError, views.PageError, datatypes.ErrorPage{
				ErrorMessage: MessageInternal,
			})
			return
		}

		searchID := uuid.New().String()
		span.SetAttributes(
			attribute.String("search_id", searchID),
			attribute.Int("k", limits.K),
			attribute.Int("n", limits.N),
		)
		slog.Info("Query:", "search_id", searchID, "query", form.Query)

		outcome, err := runner.Search(ctx, form.Query, limits.K, limits.N)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, result, message := classifySearchError(err)
			slog.Error("Search failed", "search_id", searchID, "error", err)
			recorder.RecordRequest(result, time.Since(start).Seconds())
			c.HTML(status, views.PageError, datatypes.ErrorPage{
				FormPage:     datatypes.FormPage{Query: form.Query},
				ErrorMessage: message,
			})
			return
		}

		degraded := outcome.FanOut.Failed()
		span.SetAttributes(
			attribute.Int("results", len(outcome.Records)),
			attribute.StringSlice("degraded", degraded),
		)
		slog.Info("Search completed",
			"search_id", searchID,
			"results", len(outcome.Records),
			"degraded", degraded,
			"duration_ms", time.Since(start).Milliseconds())

		recorder.RecordResults(len(outcome.Records), len(degraded) > 0)
		recorder.RecordRequest(observability.OutcomeSuccess, time.Since(start).Seconds())
		c.HTML(http.StatusOK, views.PageResults, datatypes.ResultsPage{
			FormPage:  datatypes.FormPage{Query: form.Query, Password: form.Password},
			SearchID:  searchID,
			Documents: outcome.Records,
			Degraded:  degraded,
		})
	}
}

// Health reports the configured indexes for GET /health.
func Health(runner SearchRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:  "ok",
			Indexes: runner.Names(),
		})
	}
}

// classifySearchError maps a searcher error to a status, metric outcome and
// user-facing message.
func classifySearchError(err error) (int, observability.Outcome, string) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		return http.StatusBadRequest, observability.OutcomeInvalidQuery, middleware.MessageMissingQuery
	case errors.Is(err, retrieval.ErrAllProvidersFailed),
		errors.Is(err, retrieval.ErrProviderUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, observability.OutcomeUnavailable, MessageUnavailable
	default:
		return http.StatusInternalServerError, observability.OutcomeError, MessageInternal
	}
}
