// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/server"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     server.RateLimitConfig
		wantErr bool
	}{
		{name: "disabled", cfg: server.RateLimitConfig{}},
		{name: "rate with burst", cfg: server.RateLimitConfig{RequestsPerSecond: 5, Burst: 10}},
		{name: "rate without burst", cfg: server.RateLimitConfig{RequestsPerSecond: 5}, wantErr: true},
		{name: "negative rate", cfg: server.RateLimitConfig{RequestsPerSecond: -1, Burst: 1}, wantErr: true},
		{name: "negative visitors", cfg: server.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxVisitors: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, huddleerr.HasCode(err, huddleerr.CodeServerConfigInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10000, tt.cfg.MaxVisitors)
		})
	}
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	clock := newClock()
	l := server.NewLimiterForTest(server.RateLimitConfig{RequestsPerSecond: 2, Burst: 3, MaxVisitors: 10}, clock.Now)

	for i := range 3 {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "other IPs have their own bucket")

	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	clock.Advance(time.Hour)
	for range 3 {
		assert.True(t, l.Allow("10.0.0.1"))
	}
	assert.False(t, l.Allow("10.0.0.1"), "refill is capped at burst")
}

func TestLimiter_SweepDropsStaleAndEnforcesCap(t *testing.T) {
	clock := newClock()
	l := server.NewLimiterForTest(server.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxVisitors: 2}, clock.Now)

	l.Allow("stale")
	clock.Advance(11 * time.Minute)
	for i := range 3 {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
		clock.Advance(time.Second)
	}
	require.Equal(t, 4, l.Len())

	l.Sweep()
	assert.Equal(t, 2, l.Len())

	// The oldest live visitor was evicted and comes back as a new bucket.
	assert.True(t, l.Allow("10.0.0.0"))
	assert.Equal(t, 3, l.Len())
}

func TestWritesOnly(t *testing.T) {
	l := server.NewLimiterForTest(server.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxVisitors: 10}, newClock().Now)
	h := server.WritesOnly(l.Middleware)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "192.0.2.7:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/api/v1/collections/messages/documents"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPatch, "/api/v1/collections/messages/documents/m1"))
	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/api/v1/collections/messages/query"), "queries are not limited")
	assert.Equal(t, http.StatusNoContent, do(http.MethodGet, "/api/v1/status"))
}
