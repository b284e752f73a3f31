// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the search service.
//
// # Request Flow
//
// POST /search runs through three middlewares before the handler:
//
//	Request
//	   │
//	   ▼
//	RateLimit ──────► 429 error page
//	   │
//	   ▼
//	BindSearchForm ─► 400 error page (missing or blank q)
//	   │
//	   ▼
//	PasswordGate ───► 401 error page "Invalid password"
//	   │
//	   ▼
//	Handler (retrieves the form via GetSearchForm)
//
// A request rejected by any middleware never reaches the search pipeline,
// and the query of a rejected request is never logged.
package middleware

import (
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/AleutianAI/AleutianSearch/services/search/observability"
	"github.com/AleutianAI/AleutianSearch/services/search/views"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// searchFormKey is the context key for the bound search form.
const searchFormKey = "aleutian_search_form"

// Error page messages.
const (
	MessageInvalidPassword = "Invalid password"
	MessageMissingQuery    = "Please enter a search query"
	MessageRateLimited     = "Too many requests, please wait a moment"
)

// =============================================================================
// Interfaces
// =============================================================================

// Verifier checks the shared access secret. auth.Gate implements it.
type Verifier interface {
	Verify(secret string) bool
}

// Recorder receives the outcome of requests rejected by a middleware.
// *observability.SearchMetrics implements it.
type Recorder interface {
	RecordRequest(outcome observability.Outcome, seconds float64)
	RecordAuthRejection()
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(observability.Outcome, float64) {}
func (nopRecorder) RecordAuthRejection()                         {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetSearchForm stores the bound form in the Gin context.
func SetSearchForm(c *gin.Context, form datatypes.SearchForm) {
	c.Set(searchFormKey, form)
}

// GetSearchForm retrieves the form bound by BindSearchForm.
//
// # Outputs
//
//   - datatypes.SearchForm: The normalized form.
//   - bool: False when BindSearchForm did not run for this request.
func GetSearchForm(c *gin.Context) (datatypes.SearchForm, bool) {
	if v, exists := c.Get(searchFormKey); exists {
		if form, ok := v.(datatypes.SearchForm); ok {
			return form, true
		}
	}
	return datatypes.SearchForm{}, false
}

// =============================================================================
// Middleware
// =============================================================================

// BindSearchForm binds and normalizes the q and password form fields.
//
// # Description
//
// A missing or blank query renders the error page with 400 and aborts. A
// missing password binds as the empty string and is left to PasswordGate.
//
// # Inputs
//
//   - recorder: Receives the invalid_query outcome. May be nil.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func BindSearchForm(recorder Recorder) gin.HandlerFunc {
	recorder = recorderOrNop(recorder)
	return func(c *gin.Context) {
		start := time.Now()

		var form datatypes.SearchForm
		if err := c.ShouldBind(&form); err != nil {
			form = datatypes.SearchForm{}
		}
		form.Normalize()

		if form.Query == "" {
			recorder.RecordRequest(observability.OutcomeInvalidQuery, time.Since(start).Seconds())
			c.HTML(http.StatusBadRequest, views.PageError, datatypes.ErrorPage{
				ErrorMessage: MessageMissingQuery,
			})
			c.Abort()
			return
		}

		SetSearchForm(c, form)
		c.Next()
	}
}

// PasswordGate rejects requests whose password does not verify.
//
// # Description
//
// Reads the form stored by BindSearchForm and checks its password with
// verifier. On rejection the error page is rendered with 401 and the chain
// is aborted, so no index is ever queried. The query is echoed back into
// the form but not logged.
//
// # Inputs
//
//   - verifier: Shared secret checker. Must not be nil.
//   - recorder: Receives rejections. May be nil.
//
// # Examples
//
//	search := router.Group("/search")
//	search.POST("",
//	    middleware.BindSearchForm(metrics),
//	    middleware.PasswordGate(gate, metrics),
//	    handlers.Search(searcher, cfg, metrics))
//
// # Assumptions
//
//   - BindSearchForm ran earlier in the chain. Without it every request is
//     rejected.
//
// # Thread Safety
//
// Thread-safe if verifier is.
func PasswordGate(verifier Verifier, recorder Recorder) gin.HandlerFunc {
	recorder = recorderOrNop(recorder)
	return func(c *gin.Context) {
		start := time.Now()

		form, ok := GetSearchForm(c)
		if !ok || !verifier.Verify(form.Password) {
			recorder.RecordAuthRejection()
			recorder.RecordRequest(observability.OutcomeUnauthorized, time.Since(start).Seconds())
			c.HTML(http.StatusUnauthorized, views.PageError, datatypes.ErrorPage{
				FormPage:     datatypes.FormPage{Query: form.Query},
				ErrorMessage: MessageInvalidPassword,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
