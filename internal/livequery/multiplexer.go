// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package livequery keeps views of the document store live while holding at
// most one store subscription per distinct query.
package livequery

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/metrics"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Listener receives every result set for a key. On failure docs is empty
// and err is set. The slice is shared between listeners and must not be mutated.
type Listener func(docs []document.Document, err error)

// Multiplexer maps canonical query keys to a single store subscription each
// and fans change batches out to every attached listener.
//
// Listeners run while the key's delivery lock is held. A listener may detach
// any handle, including its own, but must not attach to the same key.
type Multiplexer struct {
	sub     store.Subscriber
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	key string
	q   query.Query

	// Guarded by Multiplexer.mu.
	listeners []*listener
	unsub     store.Unsubscribe
	opening   bool
	removed   bool

	// deliverMu serialises fan-out for this key.
	deliverMu sync.Mutex
	last      []document.Document
	hasLast   bool
}

type listener struct {
	fn Listener
	// ready is set under deliverMu once the listener has seen the cached
	// snapshot; fan-out skips listeners that are not ready yet.
	ready bool
}

// MultiplexerOption configures a Multiplexer.
type MultiplexerOption func(*Multiplexer)

// WithMultiplexerLogger sets the logger.
func WithMultiplexerLogger(l *slog.Logger) MultiplexerOption {
	return func(m *Multiplexer) { m.logger = l }
}

// WithMultiplexerMetrics sets the metrics sink.
func WithMultiplexerMetrics(mt *metrics.Metrics) MultiplexerOption {
	return func(m *Multiplexer) { m.metrics = mt }
}

// NewMultiplexer creates a Multiplexer over sub.
func NewMultiplexer(sub store.Subscriber, opts ...MultiplexerOption) *Multiplexer {
	m := &Multiplexer{
		sub:     sub,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = metrics.Discard()
	}
	return m
}

// Attach registers fn for key. The first attach for a key opens the store
// subscription for q. If a result is already cached for key, fn receives it
// before Attach returns. The returned Handle must be detached when the caller
// no longer needs updates.
func (m *Multiplexer) Attach(ctx context.Context, key string, q query.Query, fn Listener) *Handle {
	l := &listener{fn: fn}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		fn([]document.Document{}, huddleerr.New(huddleerr.CodeLivequeryClosed, "multiplexer closed", huddleerr.FieldQueryKey(key)))
		return &Handle{}
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{key: key, q: q}
		m.entries[key] = e
	}
	e.listeners = append(e.listeners, l)
	open := e.unsub == nil && !e.opening
	if open {
		e.opening = true
	}
	m.mu.Unlock()

	m.metrics.AttachesTotal.Inc()
	m.logger.Debug("livequery attach", "key", key, "open", open)

	e.deliverMu.Lock()
	l.ready = true
	if e.hasLast {
		fn(e.last, nil)
	}
	e.deliverMu.Unlock()

	h := &Handle{m: m, e: e, l: l}
	if open {
		m.open(ctx, e)
	}
	return h
}

// open subscribes to the store outside the map lock. If every listener
// detached while the call was in flight, the new subscription is closed
// immediately.
func (m *Multiplexer) open(ctx context.Context, e *entry) {
	unsub, err := m.sub.Subscribe(ctx, e.q, func(docs []document.Document, err error) {
		m.deliver(e, docs, err)
	})

	m.mu.Lock()
	e.opening = false
	if e.removed {
		m.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		m.logger.Debug("livequery subscription closed after late open", "key", e.key)
		return
	}
	if err == nil {
		e.unsub = unsub
	}
	m.mu.Unlock()

	if err != nil {
		// The entry stays; the next Attach to this key retries the open.
		m.deliver(e, nil, huddleerr.With(err, huddleerr.FieldQueryKey(e.key)))
		return
	}
	m.metrics.StoreSubscribes.Inc()
	m.metrics.SubscriptionsActive.Inc()
	m.logger.Debug("livequery subscription opened", "key", e.key, "collection", e.q.Collection)
}

// deliver caches a successful result and broadcasts it, or broadcasts err
// without touching the cache.
func (m *Multiplexer) deliver(e *entry, docs []document.Document, err error) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	m.mu.Lock()
	if e.removed {
		m.mu.Unlock()
		return
	}
	targets := slices.Clone(e.listeners)
	m.mu.Unlock()

	if err != nil {
		m.metrics.FanoutTotal.WithLabelValues(metrics.ResultError).Inc()
		m.logger.Warn("livequery store error", "key", e.key, "listeners", len(targets), "error", err)
		for _, l := range targets {
			if l.ready {
				l.fn([]document.Document{}, err)
			}
		}
		return
	}

	if docs == nil {
		docs = []document.Document{}
	}
	e.last = docs
	e.hasLast = true
	m.metrics.FanoutTotal.WithLabelValues(metrics.ResultOK).Inc()
	for _, l := range targets {
		if l.ready {
			l.fn(docs, nil)
		}
	}
}

// Publish replaces the cached result for key and broadcasts it. It reports
// false when nothing is attached to key.
func (m *Multiplexer) Publish(key string, docs []document.Document) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.deliver(e, docs, nil)
	return true
}

func (m *Multiplexer) detach(h *Handle) {
	e := h.e

	m.mu.Lock()
	if e.removed {
		m.mu.Unlock()
		return
	}
	e.listeners = slices.DeleteFunc(e.listeners, func(l *listener) bool { return l == h.l })
	if len(e.listeners) > 0 {
		m.mu.Unlock()
		m.logger.Debug("livequery detach", "key", e.key)
		return
	}
	e.removed = true
	if m.entries[e.key] == e {
		delete(m.entries, e.key)
	}
	unsub := e.unsub
	e.unsub = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
		m.metrics.SubscriptionsActive.Dec()
	}
	m.logger.Debug("livequery subscription closed", "key", e.key)
}

// KeyStats describes one active key.
type KeyStats struct {
	Key        string `json:"key"`
	Collection string `json:"collection"`
	Listeners  int    `json:"listeners"`
	Open       bool   `json:"open"`
}

// Stats returns the active keys sorted by key.
func (m *Multiplexer) Stats() []KeyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyStats, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, KeyStats{
			Key:        e.key,
			Collection: e.q.Collection,
			Listeners:  len(e.listeners),
			Open:       e.unsub != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close detaches every listener and closes every store subscription. Later
// attaches fail with livequery.view.closed.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	var unsubs []store.Unsubscribe
	for key, e := range m.entries {
		e.removed = true
		if e.unsub != nil {
			unsubs = append(unsubs, e.unsub)
			e.unsub = nil
		}
		delete(m.entries, key)
	}
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
		m.metrics.SubscriptionsActive.Dec()
	}
}

// Handle is one listener's registration. Detach is idempotent.
type Handle struct {
	m    *Multiplexer
	e    *entry
	l    *listener
	once sync.Once
}

// Key returns the canonical key the handle is attached to.
func (h *Handle) Key() string {
	if h.e == nil {
		return ""
	}
	return h.e.key
}

// Detach removes the listener. Detaching the last listener for a key closes
// its store subscription before Detach returns.
func (h *Handle) Detach() {
	if h == nil || h.e == nil {
		return
	}
	h.once.Do(func() { h.m.detach(h) })
}
