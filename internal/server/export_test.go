// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net/http"
	"time"
)

// Limiter exposes the per-IP token bucket to external tests.
type Limiter struct{ l *limiter }

func NewLimiterForTest(cfg RateLimitConfig, now func() time.Time) *Limiter {
	return &Limiter{l: newLimiter(cfg, now, slog.Default())}
}

func (l *Limiter) Allow(ip string) bool { return l.l.allow(ip) }
func (l *Limiter) Sweep()               { l.l.sweep() }
func (l *Limiter) Len() int             { return l.l.len() }

func (l *Limiter) Middleware(next http.Handler) http.Handler { return l.l.middleware(next) }

// WritesOnly exposes writesOnly.
var WritesOnly = writesOnly
