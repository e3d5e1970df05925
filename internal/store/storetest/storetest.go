// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package storetest is a conformance suite every store backend runs from its
// own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) store.Store

// Run exercises the store contract against open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndFetch", testCreateAndFetch},
		{"CreateAssignsID", testCreateAssignsID},
		{"CreateConflict", testCreateConflict},
		{"UpdateMerges", testUpdateMerges},
		{"UpdateNotFound", testUpdateNotFound},
		{"Delete", testDelete},
		{"FilterOperators", testFilterOperators},
		{"OrderAndLimit", testOrderAndLimit},
		{"CursorPagination", testCursorPagination},
		{"CursorPaginationDesc", testCursorPaginationDesc},
		{"SubscribeDeliversChanges", testSubscribeDeliversChanges},
		{"SubscribeInvalidQuery", testSubscribeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func seedMessages(t *testing.T, s store.Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := s.Create(context.Background(), "messages", document.New(fmt.Sprintf("m%02d", i), map[string]any{
			"roomId":    "general",
			"createdAt": int64(i * 1000),
		}))
		require.NoError(t, err)
	}
}

func testCreateAndFetch(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Create(ctx, "rooms", document.New("general", map[string]any{"name": "General"}))
	require.NoError(t, err)

	docs, err := s.Fetch(ctx, query.Query{Collection: "rooms"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "general", docs[0].ID)
	assert.Equal(t, "General", docs[0].Fields["name"])

	empty, err := s.Fetch(ctx, query.Query{Collection: "users"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testCreateAssignsID(t *testing.T, s store.Store) {
	doc, err := s.Create(context.Background(), "rooms", document.Document{Fields: map[string]any{"name": "x"}})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
}

func testCreateConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Create(ctx, "rooms", document.New("a", nil))
	require.NoError(t, err)

	_, err = s.Create(ctx, "rooms", document.New("a", nil))
	require.Error(t, err)
	assert.True(t, huddleerr.IsConflict(err))
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.Create(ctx, "users", document.New("a", nil))
	assert.NoError(t, err, "IDs are scoped per collection")
}

func testUpdateMerges(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Create(ctx, "users", document.New("alice", map[string]any{"name": "Alice", "status": "away"}))
	require.NoError(t, err)

	updated, err := s.Update(ctx, "users", "alice", map[string]any{"status": nil, "bio": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Fields["name"])
	assert.Equal(t, "hi", updated.Fields["bio"])
	assert.NotContains(t, updated.Fields, "status")

	docs, err := s.Fetch(ctx, query.Query{Collection: "users"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotContains(t, docs[0].Fields, "status")
}

func testUpdateNotFound(t *testing.T, s store.Store) {
	_, err := s.Update(context.Background(), "users", "ghost", map[string]any{"a": 1})
	require.Error(t, err)
	assert.True(t, huddleerr.IsNotFound(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Create(ctx, "rooms", document.New("a", nil))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "rooms", "a"))
	err = s.Delete(ctx, "rooms", "a")
	assert.True(t, huddleerr.IsNotFound(err))
}

func testFilterOperators(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, u := range []document.Document{
		document.New("alice", map[string]any{"age": 30, "tags": []any{"admin", "ops"}, "team": "red"}),
		document.New("bob", map[string]any{"age": 25, "tags": []any{"ops"}, "team": "blue"}),
		document.New("carol", map[string]any{"age": 41, "tags": []any{}}),
	} {
		_, err := s.Create(ctx, "users", u)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter query.Filter
		want   []string
	}{
		{"equal", query.Filter{Field: "team", Operator: query.OpEqual, Value: "red"}, []string{"alice"}},
		{"not equal includes missing", query.Filter{Field: "team", Operator: query.OpNotEqual, Value: "red"}, []string{"bob", "carol"}},
		{"less", query.Filter{Field: "age", Operator: query.OpLess, Value: 30}, []string{"bob"}},
		{"less equal", query.Filter{Field: "age", Operator: query.OpLessEqual, Value: 30}, []string{"alice", "bob"}},
		{"greater", query.Filter{Field: "age", Operator: query.OpGreater, Value: 30}, []string{"carol"}},
		{"greater equal", query.Filter{Field: "age", Operator: query.OpGreaterEqual, Value: 30}, []string{"alice", "carol"}},
		{"array contains", query.Filter{Field: "tags", Operator: query.OpArrayContains, Value: "ops"}, []string{"alice", "bob"}},
		{"in", query.Filter{Field: "team", Operator: query.OpIn, Value: []any{"blue", "green"}}, []string{"bob"}},
		{"id pseudo-field", query.Filter{Field: "id", Operator: query.OpIn, Value: []string{"alice", "carol"}}, []string{"alice", "carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			docs, err := s.Fetch(ctx, query.Query{Collection: "users", Filter: &f})
			require.NoError(t, err)
			assert.Equal(t, tt.want, document.IDs(docs))
		})
	}
}

func testOrderAndLimit(t *testing.T, s store.Store) {
	seedMessages(t, s, 5)

	docs, err := s.Fetch(context.Background(), query.Query{
		Collection: "messages",
		OrderField: "createdAt",
		Direction:  query.Desc,
		Limit:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m05", "m04", "m03"}, document.IDs(docs))
}

func testCursorPagination(t *testing.T, s store.Store) {
	ctx := context.Background()
	// Equal order values force the ID tie-break.
	for _, id := range []string{"b", "a", "c", "d"} {
		_, err := s.Create(ctx, "messages", document.New(id, map[string]any{"createdAt": 1}))
		require.NoError(t, err)
	}

	q := query.Query{Collection: "messages", OrderField: "createdAt", Direction: query.Asc, Limit: 2}
	first, err := s.Fetch(ctx, q)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, document.IDs(first))

	second, err := s.Fetch(ctx, q.StartAfter(q.CursorOf(first[len(first)-1])))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, document.IDs(second))
}

func testCursorPaginationDesc(t *testing.T, s store.Store) {
	seedMessages(t, s, 7)
	ctx := context.Background()

	q := query.Query{Collection: "messages", OrderField: "createdAt", Direction: query.Desc, Limit: 3}
	var all []string
	page, err := s.Fetch(ctx, q)
	require.NoError(t, err)
	for len(page) > 0 {
		all = append(all, document.IDs(page)...)
		page, err = s.Fetch(ctx, q.StartAfter(q.CursorOf(page[len(page)-1])))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"m07", "m06", "m05", "m04", "m03", "m02", "m01"}, all)
}

func testSubscribeDeliversChanges(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedMessages(t, s, 2)

	var (
		mu      sync.Mutex
		results [][]string
	)
	unsub, err := s.Subscribe(ctx, query.Query{Collection: "messages", OrderField: "createdAt", Direction: query.Asc},
		func(docs []document.Document, err error) {
			if err != nil {
				return
			}
			mu.Lock()
			results = append(results, document.IDs(docs))
			mu.Unlock()
		})
	require.NoError(t, err)
	defer unsub()

	latest := func() []string {
		mu.Lock()
		defer mu.Unlock()
		if len(results) == 0 {
			return nil
		}
		return results[len(results)-1]
	}

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"m01", "m02"}, latest())
	}, 2*time.Second, 10*time.Millisecond)

	_, err = s.Create(ctx, "messages", document.New("m03", map[string]any{"createdAt": int64(3000)}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"m01", "m02", "m03"}, latest())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Delete(ctx, "messages", "m01"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"m02", "m03"}, latest())
	}, 2*time.Second, 10*time.Millisecond)
}

func testSubscribeInvalidQuery(t *testing.T, s store.Store) {
	_, err := s.Subscribe(context.Background(), query.Query{}, func([]document.Document, error) {})
	require.Error(t, err)
}
