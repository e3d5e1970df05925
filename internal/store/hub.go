// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
)

// FetchFunc evaluates a query against a backend's current state.
type FetchFunc func(ctx context.Context, q query.Query) ([]document.Document, error)

// Hub gives a local backend watch-query semantics: after each committed
// mutation the backend calls Notify, and every subscription on that
// collection re-runs its query and receives the new result if it changed.
type Hub struct {
	fetch  FetchFunc
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*hubSub
	nextID uint64
}

type hubSub struct {
	q  query.Query
	fn ChangeFunc

	// mu serialises delivery for this subscription.
	mu        sync.Mutex
	last      []document.Document
	delivered bool
	closed    atomic.Bool
}

// NewHub creates a Hub that evaluates queries with fetch.
func NewHub(fetch FetchFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		fetch:  fetch,
		logger: logger,
		subs:   make(map[uint64]*hubSub),
	}
}

// Subscribe registers fn for q and delivers the initial result before
// returning.
func (h *Hub) Subscribe(ctx context.Context, q query.Query, fn ChangeFunc) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s := &hubSub{q: q, fn: fn}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = s
	h.mu.Unlock()

	h.refresh(ctx, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.closed.Store(true)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}, nil
}

// Notify re-evaluates every subscription on collection.
func (h *Hub) Notify(ctx context.Context, collection string) {
	h.mu.Lock()
	affected := make([]*hubSub, 0, len(h.subs))
	for _, s := range h.subs {
		if s.q.Collection == collection {
			affected = append(affected, s)
		}
	}
	h.mu.Unlock()

	for _, s := range affected {
		h.refresh(ctx, s)
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscription without further callbacks.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		s.closed.Store(true)
		delete(h.subs, id)
	}
}

func (h *Hub) refresh(ctx context.Context, s *hubSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}

	docs, err := h.fetch(context.WithoutCancel(ctx), s.q)
	if err != nil {
		h.logger.Warn("watch query re-evaluation failed",
			"collection", s.q.Collection,
			"error", err,
		)
		s.fn([]document.Document{}, err)
		return
	}
	if s.delivered && reflect.DeepEqual(docs, s.last) {
		return
	}
	s.last = docs
	s.delivered = true
	s.fn(docs, nil)
}
