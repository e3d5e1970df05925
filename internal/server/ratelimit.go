// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// RateLimitConfig configures per-IP limiting of document writes.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained write rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the largest number of writes an idle IP may make at once.
	Burst int
	// MaxVisitors caps the number of IPs tracked. Default: 10000.
	MaxVisitors int
}

// Validate checks c and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return huddleerr.Errorf(huddleerr.CodeServerConfigInvalid,
			"write rate must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return huddleerr.Errorf(huddleerr.CodeServerConfigInvalid,
			"write burst must be positive when a rate is set (got burst=%d, rate=%g)", c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return huddleerr.Errorf(huddleerr.CodeServerConfigInvalid,
			"max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = 10000
	}
	return nil
}

const (
	sweepInterval  = 5 * time.Minute
	staleThreshold = 10 * time.Minute
)

// limiter is a token bucket per client IP.
type limiter struct {
	cfg    RateLimitConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	visitors map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
}

func newLimiter(cfg RateLimitConfig, now func() time.Time, logger *slog.Logger) *limiter {
	return &limiter{cfg: cfg, now: now, logger: logger, visitors: make(map[string]*bucket)}
}

// allow spends one token from ip's bucket.
func (l *limiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.visitors[ip]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastRefill: now}
		l.visitors[ip] = b
	}
	b.lastSeen = now
	b.tokens = min(float64(l.cfg.Burst), b.tokens+now.Sub(b.lastRefill).Seconds()*l.cfg.RequestsPerSecond)
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle buckets, then the least recently seen ones over the cap.
func (l *limiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	type seen struct {
		ip string
		at time.Time
	}
	live := make([]seen, 0, len(l.visitors))
	for ip, b := range l.visitors {
		if now.Sub(b.lastSeen) > staleThreshold {
			delete(l.visitors, ip)
			continue
		}
		live = append(live, seen{ip: ip, at: b.lastSeen})
	}

	if l.cfg.MaxVisitors <= 0 || len(live) <= l.cfg.MaxVisitors {
		return
	}
	slices.SortFunc(live, func(a, b seen) int { return a.at.Compare(b.at) })
	evict := len(live) - l.cfg.MaxVisitors
	for _, v := range live[:evict] {
		delete(l.visitors, v.ip)
	}
	l.logger.Warn("rate limiter visitor cap enforced",
		"evicted", evict, "max_visitors", l.cfg.MaxVisitors, "remaining", len(l.visitors))
}

func (l *limiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *limiter) run(done <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-done:
			return
		}
	}
}

// rateLimitMiddleware limits requests per client IP. It passes everything
// through when cfg.RequestsPerSecond is zero. done stops the sweeper.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg, time.Now, slog.Default())
	go l.run(done)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Key by host so extra connections from ephemeral ports share a bucket.
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			l.logger.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writesOnly applies mw to document mutations and lets reads through.
func writesOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPatch, http.MethodDelete:
				if strings.Contains(r.URL.Path, "/documents") {
					limited.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
