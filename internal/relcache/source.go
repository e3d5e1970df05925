// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package relcache

import (
	"context"

	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// EdgesQuery is the descriptor for every edge touching user.
func EdgesQuery(user string) query.Descriptor {
	return query.From(model.CollectionBlockedUsers).
		Where("participants", query.OpArrayContains, user).
		Descriptor()
}

// StoreEdgeSource reads edges from the blocked_users collection.
type StoreEdgeSource struct {
	Fetcher store.Fetcher
}

// Edges implements EdgeSource with one array-contains query on subject,
// filtered to counterparties in memory.
func (s StoreEdgeSource) Edges(ctx context.Context, subject string, counterparties []string) ([]Edge, error) {
	q, err := query.Build(EdgesQuery(subject))
	if err != nil {
		return nil, err
	}
	docs, err := s.Fetcher.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	blocks, err := model.DecodeAll[model.Block](docs)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(counterparties))
	for _, c := range counterparties {
		want[c] = true
	}
	var out []Edge
	for _, b := range blocks {
		if want[b.Counterparty(subject)] {
			out = append(out, Edge{Blocker: b.BlockerID, Blocked: b.BlockedID})
		}
	}
	return out, nil
}

// Block records that blocker blocks blocked and invalidates the pair.
// Blocking twice is not an error.
func (c *Cache) Block(ctx context.Context, m store.Mutator, blocker, blocked string) error {
	if blocker == "" || blocked == "" || blocker == blocked {
		return huddleerr.New(huddleerr.CodeRelcacheInvalidInput, "block needs two distinct user IDs",
			huddleerr.FieldUserID(blocker),
		)
	}
	doc, err := model.Encode(model.NewBlock(blocker, blocked, c.now()))
	if err != nil {
		return err
	}
	if _, err := m.Create(ctx, model.CollectionBlockedUsers, doc); err != nil && !huddleerr.IsConflict(err) {
		return err
	}
	c.Invalidate(blocker, blocked)
	c.logger.Debug("relcache block", "user_id", blocker, "blocked", blocked)
	return nil
}

// Unblock removes the edge blocker→blocked and invalidates the pair.
// Unblocking someone who is not blocked is not an error.
func (c *Cache) Unblock(ctx context.Context, m store.Mutator, blocker, blocked string) error {
	if blocker == "" || blocked == "" {
		return huddleerr.New(huddleerr.CodeRelcacheInvalidInput, "unblock needs two user IDs",
			huddleerr.FieldUserID(blocker),
		)
	}
	if err := m.Delete(ctx, model.CollectionBlockedUsers, model.BlockID(blocker, blocked)); err != nil && !huddleerr.IsNotFound(err) {
		return err
	}
	c.Invalidate(blocker, blocked)
	c.logger.Debug("relcache unblock", "user_id", blocker, "blocked", blocked)
	return nil
}
