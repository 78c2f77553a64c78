// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused client limiter is kept.
const idleLimiterTTL = 10 * time.Minute

// RateLimiter is a token bucket per client.
//
// Description:
//
//	Each client key (the remote IP) gets its own bucket. Buckets idle
//	for longer than idleLimiterTTL are pruned on the next call. A rate of
//	zero disables limiting.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientBucket
	now     func() time.Time
	pruned  time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst per client. burst below 1 is raised to 1.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Allow checks whether client may make a request now.
//
// Outputs:
//   - bool: True if the request is allowed.
//   - time.Duration: If limited, how long to wait before retrying.
func (r *RateLimiter) Allow(client string) (bool, time.Duration) {
	if r.limit <= 0 {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.pruned) > idleLimiterTTL {
		for k, b := range r.clients {
			if now.Sub(b.lastSeen) > idleLimiterTTL {
				delete(r.clients, k)
			}
		}
		r.pruned = now
	}

	b, ok := r.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Clients returns the number of tracked clients.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Middleware rejects over-limit requests with 429 and Retry-After.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait := r.Allow(c.ClientIP())
		if allowed {
			c.Next()
			return
		}
		rateLimitedTotal.Inc()
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error:     "rate limit exceeded",
			Code:      "RATE_LIMITED",
			RequestID: getOrCreateRequestID(c),
		})
	}
}
