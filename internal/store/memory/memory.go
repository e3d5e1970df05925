// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package memory is an in-process document store with watch queries. It
// backs tests and `huddle serve --backend memory`.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func init() {
	store.RegisterBackend("memory", func(_ *store.StorageConfig) (store.Store, error) {
		return New(), nil
	})
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps every collection in a map guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]document.Document
	closed      bool

	hub *store.Hub
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{collections: make(map[string]map[string]document.Document)}
	s.hub = store.NewHub(s.Fetch, o.logger)
	return s
}

// Fetch evaluates q over a snapshot of the collection.
func (s *Store) Fetch(_ context.Context, q query.Query) ([]document.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, store.ErrClosed
	}
	coll := s.collections[q.Collection]
	all := make([]document.Document, 0, len(coll))
	for _, d := range coll {
		all = append(all, d.Clone())
	}
	s.mu.RUnlock()

	return q.Apply(all), nil
}

// Subscribe opens a watch query.
func (s *Store) Subscribe(ctx context.Context, q query.Query, fn store.ChangeFunc) (store.Unsubscribe, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}
	return s.hub.Subscribe(ctx, q, fn)
}

// Create inserts doc, assigning a UUID when the ID is empty.
func (s *Store) Create(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	if collection == "" {
		return document.Document{}, store.InvalidInput("collection is required")
	}
	if doc.ID == "" {
		doc.ID = store.NewID()
	}
	doc = doc.Clone()
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return document.Document{}, store.ErrClosed
	}
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]document.Document)
		s.collections[collection] = coll
	}
	if _, exists := coll[doc.ID]; exists {
		s.mu.Unlock()
		return document.Document{}, store.Conflict(collection, doc.ID)
	}
	coll[doc.ID] = doc
	s.mu.Unlock()

	s.hub.Notify(ctx, collection)
	return doc.Clone(), nil
}

// Update merges fields into the document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) (document.Document, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return document.Document{}, store.ErrClosed
	}
	cur, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return document.Document{}, store.NotFound(collection, id)
	}
	next := cur.Merge(fields)
	s.collections[collection][id] = next
	s.mu.Unlock()

	s.hub.Notify(ctx, collection)
	return next.Clone(), nil
}

// Delete removes the document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return store.NotFound(collection, id)
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.hub.Notify(ctx, collection)
	return nil
}

// Clear removes every document in collection in one change batch.
func (s *Store) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return huddleerr.Wrap(store.ErrClosed, huddleerr.CodeStoreDatabaseFailure, "clearing collection")
	}
	delete(s.collections, collection)
	s.mu.Unlock()

	s.hub.Notify(ctx, collection)
	return nil
}

// Watchers returns the number of open watch queries.
func (s *Store) Watchers() int {
	return s.hub.Len()
}

// Close drops all data and subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.collections = nil
	s.mu.Unlock()
	s.hub.Close()
	return nil
}
