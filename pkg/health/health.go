// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package health describes the state of a connection to an upstream gateway.
package health

import "time"

// Metrics is a point-in-time view of a connection's health, safe to
// serialize to JSON. FailureCount counts consecutive failures and resets on
// the next success.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// Tracker accumulates failures and successes into Metrics. The zero value
// is ready to use and reports an available connection. It is not safe for
// concurrent use.
type Tracker struct {
	failures    int64
	lastFailure time.Time
	cooldown    time.Time
}

// Failure records a failure at now. retryAt is when the next attempt is
// due, or the zero time when the caller does not retry on its own.
func (t *Tracker) Failure(now, retryAt time.Time) {
	t.failures++
	t.lastFailure = now
	t.cooldown = retryAt
}

// Success clears the failure streak.
func (t *Tracker) Success() {
	t.failures = 0
	t.cooldown = time.Time{}
}

// Metrics returns the current state as seen at now.
func (t *Tracker) Metrics(now time.Time) Metrics {
	m := Metrics{FailureCount: t.failures, Available: t.failures == 0}
	if !t.lastFailure.IsZero() {
		at := t.lastFailure
		m.LastFailureAt = &at
	}
	if t.cooldown.After(now) {
		until := t.cooldown
		m.CooldownUntil = &until
	}
	return m
}
