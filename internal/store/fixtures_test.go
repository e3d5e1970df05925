// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	"github.com/sigil-dev/huddle/internal/store/memory"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

const sampleFixtures = `
rooms:
  - id: general
    fields:
      name: General
      members: [alice, bob]
messages:
  - id: m1
    fields: {roomId: general, authorId: alice, body: hi, createdAt: 1000}
  - id: m2
    fields: {roomId: general, authorId: bob, body: hello, createdAt: 2000}
`

func TestParseFixtures(t *testing.T) {
	f, err := store.ParseFixtures(strings.NewReader(sampleFixtures))
	require.NoError(t, err)
	require.Len(t, f["messages"], 2)
	assert.Equal(t, "m1", f["messages"][0].ID)
	assert.Equal(t, "hi", f["messages"][0].Fields["body"])
	assert.Equal(t, []any{"alice", "bob"}, f["rooms"][0].Fields["members"])
}

func TestParseFixtures_Empty(t *testing.T) {
	f, err := store.ParseFixtures(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestParseFixtures_Invalid(t *testing.T) {
	_, err := store.ParseFixtures(strings.NewReader("rooms: [unterminated"))
	require.Error(t, err)
	assert.True(t, huddleerr.HasCode(err, huddleerr.CodeStoreFixtureInvalid))
}

func TestLoadFixtures(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })

	n, err := store.LoadFixtures(ctx, strings.NewReader(sampleFixtures), s)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	docs, err := s.Fetch(ctx, query.Query{Collection: "messages", OrderField: "createdAt", Direction: query.Desc})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "m2", docs[0].ID)
}

func TestLoadFixtures_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })

	dup := "rooms:\n  - id: a\n  - id: a\n"
	n, err := store.LoadFixtures(ctx, strings.NewReader(dup), s)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, huddleerr.IsConflict(err))
}
