// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/AleutianAI/AleutianSearch/services/search/observability"
	"github.com/AleutianAI/AleutianSearch/services/search/views"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the number of per-client limiters kept in memory.
const maxTrackedClients = 10000

// clientLimiters hands out one token bucket per client IP.
type clientLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

func (l *clientLimiters) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(client); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(client, lim)
	return lim
}

// RateLimit throttles requests per client IP with a token bucket.
//
// # Description
//
// Each client IP gets perSecond requests per second with bursts of up to
// burst. A throttled request renders the error page with 429 and aborts.
// The least recently seen clients are forgotten once maxTrackedClients is
// reached.
//
// # Inputs
//
//   - perSecond: Sustained rate. Zero or negative disables limiting.
//   - burst: Bucket size. Values below 1 are raised to 1.
//   - recorder: Receives the rate_limited outcome. May be nil.
//
// # Limitations
//
//   - Limits are per process. Replicas each keep their own buckets.
//   - Client identity is gin's ClientIP, which trusts proxy headers only
//     from the engine's trusted proxies.
//
// # Thread Safety
//
// Thread-safe.
func RateLimit(perSecond float64, burst int, recorder Recorder) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	recorder = recorderOrNop(recorder)

	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	limiters := &clientLimiters{limit: rate.Limit(perSecond), burst: burst, limiters: cache}

	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			recorder.RecordRequest(observability.OutcomeRateLimited, 0)
			c.HTML(http.StatusTooManyRequests, views.PageError, datatypes.ErrorPage{
				ErrorMessage: MessageRateLimited,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
