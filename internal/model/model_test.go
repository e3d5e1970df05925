// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/model"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

func TestDecode_Message(t *testing.T) {
	// JSON-backed stores return float64 numbers; in-process stores keep ints.
	for _, createdAt := range []any{float64(1700000000123), int64(1700000000123), 1700000000123} {
		doc := document.New("m1", map[string]any{
			"chatId":    "room1",
			"senderId":  "alice",
			"text":      "hi",
			"createdAt": createdAt,
			"extra":     "ignored",
		})

		msg, err := model.Decode[model.Message](doc)
		require.NoError(t, err)
		assert.Equal(t, model.Message{
			ID:        "m1",
			ChatID:    "room1",
			SenderID:  "alice",
			Text:      "hi",
			CreatedAt: 1700000000123,
		}, msg)
	}
}

func TestDecode_SliceFields(t *testing.T) {
	doc := document.New("b1", map[string]any{
		"blockerId":    "alice",
		"blockedId":    "bob",
		"participants": []any{"alice", "bob"},
	})

	b, err := model.Decode[model.Block](doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, b.Participants)
	assert.Equal(t, "bob", b.Counterparty("alice"))
	assert.Equal(t, "alice", b.Counterparty("bob"))
	assert.Empty(t, b.Counterparty("carol"))
}

func TestDecode_Invalid(t *testing.T) {
	doc := document.New("r1", map[string]any{"members": map[string]any{"not": "a list"}})

	_, err := model.Decode[model.Room](doc)
	require.Error(t, err)
	assert.True(t, huddleerr.HasCode(err, huddleerr.CodeStoreDecodeInvalid))
	assert.Equal(t, "r1", huddleerr.FieldsOf(err)["document_id"])
}

func TestDecodeAll(t *testing.T) {
	docs := []document.Document{
		document.New("u1", map[string]any{"displayName": "Alice"}),
		document.New("u2", map[string]any{"displayName": "Bob"}),
	}
	users, err := model.DecodeAll[model.User](docs)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Bob", users[1].DisplayName)
}

func TestEncode_RoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	msg := model.NewMessage("room1", "alice", "hello", now)

	doc, err := model.Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, doc.ID)
	assert.NotContains(t, doc.Fields, "id")
	assert.Equal(t, "room1", doc.Fields["chatId"])

	back, err := model.Decode[model.Message](doc)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestNewMessage_IDsSortByTime(t *testing.T) {
	a := model.NewMessage("r", "u", "first", time.UnixMilli(1000))
	b := model.NewMessage("r", "u", "second", time.UnixMilli(2000))
	assert.Less(t, a.ID, b.ID)
	assert.Equal(t, model.MessageText, a.Kind)
}

func TestNewMessage_NormalizesText(t *testing.T) {
	decomposed := "cafe\u0301"
	msg := model.NewMessage("r", "u", decomposed, time.UnixMilli(1000))
	assert.Equal(t, "caf\u00e9", msg.Text)
}

func TestNewBlock(t *testing.T) {
	b := model.NewBlock("alice", "bob", time.UnixMilli(5))
	assert.Equal(t, model.BlockID("alice", "bob"), b.ID)
	assert.Equal(t, []string{"alice", "bob"}, b.Participants)
	assert.NotEqual(t, model.BlockID("bob", "alice"), b.ID)
}

func TestBlockID_Distinct(t *testing.T) {
	pairs := [][2]string{
		{"a_b", "c"}, {"a", "b_c"}, {"ab", "c"}, {"a", "bc"},
		{"1:a", "b"}, {"1", ":ab"}, {"", "abc"},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		id := model.BlockID(p[0], p[1])
		prev, dup := seen[id]
		require.False(t, dup, "%v and %v share %s", p, prev, id)
		seen[id] = p
		assert.Equal(t, id, model.BlockID(p[0], p[1]))
	}
}
