// volumed
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of volumed.
//
// volumed is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// volumed is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with volumed.  If not, see <http://www.gnu.org/licenses/>.

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPRateLimiter_BasicFunctionality(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter()
	l := limiter.GetLimiter("192.168.1.1")

	for range BurstSize {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow(), "request past the burst should be limited")
}

func TestIPRateLimiter_DifferentIPs(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter()
	first := limiter.GetLimiter("192.168.1.1")
	for range BurstSize {
		first.Allow()
	}
	assert.False(t, first.Allow())
	assert.True(t, limiter.GetLimiter("192.168.1.2").Allow())
}

func TestIPRateLimiter_SameIPReuse(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter()
	assert.Same(t, limiter.GetLimiter("10.0.0.1"), limiter.GetLimiter("10.0.0.1"))
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiterWithClock(clock)
	limiter.GetLimiter("10.0.0.1")
	clock.Advance(limiterMaxAge / 2)
	limiter.GetLimiter("10.0.0.2")

	clock.Advance(limiterMaxAge/2 + time.Second)
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.NotContains(t, limiter.limiters, "10.0.0.1")
	assert.Contains(t, limiter.limiters, "10.0.0.2")
}

func TestIPRateLimiter_StartCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiterWithClock(clock)
	limiter.GetLimiter("10.0.0.1")
	limiter.StartCleanup(ctx)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(limiterMaxAge + cleanupInterval)

	assert.Eventually(t, func() bool {
		limiter.mu.RLock()
		defer limiter.mu.RUnlock()
		return len(limiter.limiters) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHTTPRateLimitMiddleware_Allow(t *testing.T) {
	t.Parallel()

	handler := HTTPRateLimitMiddleware(NewIPRateLimiter())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api", http.NoBody)
	req.RemoteAddr = "192.168.1.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPRateLimitMiddleware_Block(t *testing.T) {
	t.Parallel()

	handler := HTTPRateLimitMiddleware(NewIPRateLimiter())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	var last int
	for range BurstSize + 1 {
		req := httptest.NewRequest(http.MethodGet, "/api", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestHTTPRateLimitMiddleware_IPExtraction(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter()
	handler := HTTPRateLimitMiddleware(limiter)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for _, addr := range []string{"192.168.1.1:1111", "192.168.1.1:2222"} {
		req := httptest.NewRequest(http.MethodGet, "/api", http.NoBody)
		req.RemoteAddr = addr
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Len(t, limiter.limiters, 1)
	assert.Contains(t, limiter.limiters, "192.168.1.1")
}

func TestMethodRateLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMethodRateLimiter(5*time.Second, "volume.format")

	assert.True(t, limiter.AllowAt("volume.format", now))
	assert.False(t, limiter.AllowAt("volume.format", now.Add(time.Second)))
	assert.True(t, limiter.AllowAt("volume.format", now.Add(6*time.Second)))

	for range 10 {
		assert.True(t, limiter.AllowAt("volume.status", now))
	}
}

func TestRateLimitResponse(t *testing.T) {
	t.Parallel()

	var resp map[string]any
	require.NoError(t, json.Unmarshal(RateLimitResponse(), &resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, float64(rateLimitCode), errObj["code"], 0)
	assert.Equal(t, "Rate limit exceeded", errObj["message"])
}
