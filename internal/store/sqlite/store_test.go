// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	"github.com/sigil-dev/huddle/internal/store/sqlite"
	"github.com/sigil-dev/huddle/internal/store/storetest"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t)
	})
}

func TestNew_PathIsDirectory(t *testing.T) {
	dir := testDir(t)
	dbPath := filepath.Join(dir, "documents.db")
	require.NoError(t, os.Mkdir(dbPath, 0o755))

	_, err := sqlite.New(dbPath, nil)
	require.Error(t, err)
	assert.True(t, huddleerr.HasCode(err, huddleerr.CodeStoreDatabaseFailure))
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t, "persist")

	s, err := sqlite.New(path, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "rooms", document.New("general", map[string]any{"name": "General", "members": []any{"alice"}}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.New(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	docs, err := s.Fetch(ctx, query.Query{Collection: "rooms"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []any{"alice"}, docs[0].Fields["members"])
}

func TestFetch_UnsafeFieldName(t *testing.T) {
	s := openTestStore(t)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Fetch(context.Background(), query.Query{
		Collection: "rooms",
		OrderField: "name') --",
	})
	require.Error(t, err)
	assert.True(t, huddleerr.IsInvalidInput(err))
}

func TestFetch_BoolFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Create(ctx, "users", document.New("a", map[string]any{"online": true}))
	require.NoError(t, err)
	_, err = s.Create(ctx, "users", document.New("b", map[string]any{"online": false}))
	require.NoError(t, err)

	docs, err := s.Fetch(ctx, query.Query{
		Collection: "users",
		Filter:     &query.Filter{Field: "online", Operator: query.OpEqual, Value: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, document.IDs(docs))
}

func TestWatchers(t *testing.T) {
	s := openTestStore(t)
	t.Cleanup(func() { _ = s.Close() })

	unsub, err := s.Subscribe(context.Background(), query.Query{Collection: "rooms"}, func([]document.Document, error) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Watchers())
	unsub()
	assert.Equal(t, 0, s.Watchers())
}
