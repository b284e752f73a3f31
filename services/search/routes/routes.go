// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianSearch/services/search/handlers"
	"github.com/AleutianAI/AleutianSearch/services/search/middleware"
	"github.com/AleutianAI/AleutianSearch/services/search/observability"
	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators the routes are wired to.
//
// # Fields
//
//   - Searcher: Fan-out searcher. Required.
//   - Gate: Shared secret checker. Required.
//   - Metrics: Prometheus metrics. Nil disables /metrics and recording.
//   - Limits: K per index and N overall.
//   - RateLimit: Requests per second per client on POST /search. Zero
//     disables limiting.
//   - RateBurst: Token bucket size for RateLimit.
type Dependencies struct {
	Searcher  handlers.SearchRunner
	Gate      middleware.Verifier
	Metrics   *observability.SearchMetrics
	Limits    handlers.Limits
	RateLimit float64
	RateBurst int
}

// SetupRoutes registers every route of the search service.
//
//	GET  /         search form
//	GET  /search   search form
//	POST /search   rate limit, form binding, password gate, search
//	GET  /health   configured indexes
//	GET  /metrics  Prometheus exposition, when metrics are enabled
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	var (
		gateRecorder    middleware.Recorder
		handlerRecorder handlers.Recorder
	)
	if deps.Metrics != nil {
		gateRecorder = deps.Metrics
		handlerRecorder = deps.Metrics
	}

	router.GET("/", handlers.IndexPage)
	router.GET("/health", handlers.Health(deps.Searcher))

	search := router.Group("/search")
	{
		search.GET("", handlers.IndexPage)
		search.POST("",
			middleware.RateLimit(deps.RateLimit, deps.RateBurst, gateRecorder),
			middleware.BindSearchForm(gateRecorder),
			middleware.PasswordGate(deps.Gate, gateRecorder),
			handlers.Search(deps.Searcher, deps.Limits, handlerRecorder))
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
}
