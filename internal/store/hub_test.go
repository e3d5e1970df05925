// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// fakeBackend is a FetchFunc over a mutable slice.
type fakeBackend struct {
	mu    sync.Mutex
	docs  []document.Document
	err   error
	calls atomic.Int32
}

func (f *fakeBackend) fetch(_ context.Context, q query.Query) ([]document.Document, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return q.Apply(f.docs), nil
}

func (f *fakeBackend) set(docs ...document.Document) {
	f.mu.Lock()
	f.docs = docs
	f.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	results [][]document.Document
	errs    []error
}

func (r *recorder) fn(docs []document.Document, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.results = append(r.results, docs)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func roomsQuery() query.Query {
	return query.Query{Collection: "rooms", OrderField: "name", Direction: query.Asc}
}

func TestHub_InitialDeliveryIsSynchronous(t *testing.T) {
	backend := &fakeBackend{}
	backend.set(document.New("r1", map[string]any{"name": "general"}))
	hub := store.NewHub(backend.fetch, nil)

	var rec recorder
	unsub, err := hub.Subscribe(context.Background(), roomsQuery(), rec.fn)
	require.NoError(t, err)
	defer unsub()

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"r1"}, document.IDs(rec.results[0]))
}

func TestHub_NotifyDeliversOnlyChanges(t *testing.T) {
	backend := &fakeBackend{}
	hub := store.NewHub(backend.fetch, nil)

	var rec recorder
	unsub, err := hub.Subscribe(context.Background(), roomsQuery(), rec.fn)
	require.NoError(t, err)
	defer unsub()

	hub.Notify(context.Background(), "rooms")
	assert.Equal(t, 1, rec.count(), "unchanged result must not be redelivered")

	backend.set(document.New("r2", map[string]any{"name": "random"}))
	hub.Notify(context.Background(), "rooms")
	assert.Equal(t, 2, rec.count())

	hub.Notify(context.Background(), "users")
	assert.Equal(t, 2, rec.count(), "other collections do not trigger re-evaluation")
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	backend := &fakeBackend{}
	hub := store.NewHub(backend.fetch, nil)

	var rec recorder
	unsub, err := hub.Subscribe(context.Background(), roomsQuery(), rec.fn)
	require.NoError(t, err)
	require.Equal(t, 1, hub.Len())

	unsub()
	unsub()
	assert.Equal(t, 0, hub.Len())

	backend.set(document.New("r1", nil))
	hub.Notify(context.Background(), "rooms")
	assert.Equal(t, 1, rec.count())
}

func TestHub_UnsubscribeFromCallback(t *testing.T) {
	backend := &fakeBackend{}
	hub := store.NewHub(backend.fetch, nil)

	var unsub store.Unsubscribe
	calls := 0
	unsub, err := hub.Subscribe(context.Background(), roomsQuery(), func(_ []document.Document, _ error) {
		calls++
		if unsub != nil {
			unsub()
		}
	})
	require.NoError(t, err)

	backend.set(document.New("r1", nil))
	hub.Notify(context.Background(), "rooms")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, hub.Len())
}

func TestHub_FetchErrorDelivered(t *testing.T) {
	backend := &fakeBackend{err: huddleerr.New(huddleerr.CodeStoreDatabaseFailure, "disk gone")}
	hub := store.NewHub(backend.fetch, nil)

	var rec recorder
	unsub, err := hub.Subscribe(context.Background(), roomsQuery(), rec.fn)
	require.NoError(t, err)
	defer unsub()

	require.Len(t, rec.errs, 1)
	assert.True(t, huddleerr.HasCode(rec.errs[0], huddleerr.CodeStoreDatabaseFailure))
}

func TestHub_FetchErrorCarriesEmptyDocuments(t *testing.T) {
	backend := &fakeBackend{err: huddleerr.New(huddleerr.CodeStoreDatabaseFailure, "disk gone")}
	hub := store.NewHub(backend.fetch, nil)

	var got []document.Document
	unsub, err := hub.Subscribe(context.Background(), roomsQuery(), func(d []document.Document, err error) {
		got = d
	})
	require.NoError(t, err)
	defer unsub()

	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHub_RejectsInvalidQuery(t *testing.T) {
	hub := store.NewHub((&fakeBackend{}).fetch, nil)
	_, err := hub.Subscribe(context.Background(), query.Query{}, func([]document.Document, error) {})
	require.Error(t, err)
	assert.True(t, huddleerr.IsInvalidInput(err))
}

func TestHub_CloseDropsSubscriptions(t *testing.T) {
	backend := &fakeBackend{}
	hub := store.NewHub(backend.fetch, nil)

	var rec recorder
	_, err := hub.Subscribe(context.Background(), roomsQuery(), rec.fn)
	require.NoError(t, err)

	hub.Close()
	backend.set(document.New("r1", nil))
	hub.Notify(context.Background(), "rooms")
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 1, rec.count())
}
