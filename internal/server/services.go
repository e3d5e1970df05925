// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/metrics"
	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Services holds the dependencies route handlers use.
type Services struct {
	store     store.Store
	backend   string
	tokens    *identity.Tokens
	protected map[string]bool
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger

	watches atomic.Int64
}

// ServiceOption configures Services.
type ServiceOption func(*Services)

// WithBackendName sets the backend name reported by the status route.
func WithBackendName(name string) ServiceOption {
	return func(s *Services) { s.backend = name }
}

// WithTokens enables bearer token verification. Without it every request is
// anonymous and protected collections are unreachable.
func WithTokens(t *identity.Tokens) ServiceOption {
	return func(s *Services) { s.tokens = t }
}

// WithProtectedCollections replaces the collections that need a signed-in
// caller.
func WithProtectedCollections(names ...string) ServiceOption {
	return func(s *Services) {
		s.protected = make(map[string]bool, len(names))
		for _, n := range names {
			s.protected[n] = true
		}
	}
}

// WithMetrics records request metrics on m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServiceOption {
	return func(s *Services) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Services) { s.logger = l }
}

// NewServices wires the gateway to st.
func NewServices(st store.Store, opts ...ServiceOption) (*Services, error) {
	if st == nil {
		return nil, huddleerr.New(huddleerr.CodeServerConfigInvalid, "store is required")
	}
	s := &Services{store: st, backend: "unknown"}
	WithProtectedCollections(model.DefaultProtectedCollections...)(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.New(reg)
		s.gatherer = reg
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.NewRegistry()
	}
	return s, nil
}
