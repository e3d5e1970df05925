// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package livequery_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	"github.com/sigil-dev/huddle/internal/store/memory"
)

// countingStore wraps the memory backend and counts every store call. An
// optional fetch hook runs before each fetch and can block or fail it.
type countingStore struct {
	*memory.Store

	mu           sync.Mutex
	fetches      int
	pageFetches  int
	subscribes   int
	unsubscribes int
	events       []string
	fetchHook    func(q query.Query) error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New()}
}

func (c *countingStore) Fetch(ctx context.Context, q query.Query) ([]document.Document, error) {
	c.mu.Lock()
	c.fetches++
	if q.After != nil {
		c.pageFetches++
	}
	hook := c.fetchHook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}
	return c.Store.Fetch(ctx, q)
}

func (c *countingStore) Subscribe(ctx context.Context, q query.Query, fn store.ChangeFunc) (store.Unsubscribe, error) {
	c.mu.Lock()
	c.subscribes++
	c.events = append(c.events, "subscribe:"+q.Collection)
	c.mu.Unlock()

	unsub, err := c.Store.Subscribe(ctx, q, fn)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.unsubscribes++
			c.events = append(c.events, "unsubscribe:"+q.Collection)
			c.mu.Unlock()
			unsub()
		})
	}, nil
}

func (c *countingStore) counts() (fetches, subscribes, unsubscribes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches, c.subscribes, c.unsubscribes
}

func (c *countingStore) setFetchHook(h func(q query.Query) error) {
	c.mu.Lock()
	c.fetchHook = h
	c.mu.Unlock()
}

// splitSource pairs a fetcher with a separate subscriber.
type splitSource struct {
	store.Fetcher
	store.Subscriber
}

// manualSubscriber never delivers on its own; tests push batches by hand.
type manualSubscriber struct {
	mu    sync.Mutex
	subs  []*manualSub
	err   error
	opens int
}

type manualSub struct {
	q      query.Query
	fn     store.ChangeFunc
	closed bool
}

func (m *manualSubscriber) Subscribe(_ context.Context, q query.Query, fn store.ChangeFunc) (store.Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	s := &manualSub{q: q, fn: fn}
	m.subs = append(m.subs, s)
	return func() {
		m.mu.Lock()
		s.closed = true
		m.mu.Unlock()
	}, nil
}

// push delivers to every open subscription.
func (m *manualSubscriber) push(docs []document.Document, err error) {
	m.mu.Lock()
	var open []*manualSub
	for _, s := range m.subs {
		if !s.closed {
			open = append(open, s)
		}
	}
	m.mu.Unlock()
	for _, s := range open {
		s.fn(docs, err)
	}
}

func (m *manualSubscriber) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if !s.closed {
			n++
		}
	}
	return n
}

// batchRecorder collects listener callbacks.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	errs    []error
}

func (r *batchRecorder) listen(docs []document.Document, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.batches = append(r.batches, document.IDs(docs))
}

func (r *batchRecorder) snapshot() ([][]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...), append([]error(nil), r.errs...)
}

func docs(ids ...string) []document.Document {
	out := make([]document.Document, len(ids))
	for i, id := range ids {
		out[i] = document.New(id, nil)
	}
	return out
}

// seedRoom writes messages with createdAt from lo to hi into room.
func seedRoom(t *testing.T, s store.Mutator, room string, lo, hi int) {
	t.Helper()
	for i := lo; i <= hi; i++ {
		_, err := s.Create(context.Background(), "messages", document.New(fmt.Sprintf("m%d", i), map[string]any{
			"chatId":    room,
			"createdAt": int64(i),
		}))
		require.NoError(t, err)
	}
}

func roomMessages(room string) query.Descriptor {
	return query.From("messages").Where("chatId", query.OpEqual, room).OrderBy("createdAt", query.Desc).Descriptor()
}

func idRange(lo, hi int) []string {
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, fmt.Sprintf("m%d", i))
	}
	return out
}
