// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package relcache

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/livequery"
	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/query"
)

// Watcher keeps the cache honest for one user by following that user's
// edges live. Every counterparty whose edges change is invalidated.
type Watcher struct {
	c       *Cache
	subject string

	mu     sync.Mutex
	prev   map[string][]string // counterparty -> sorted edge IDs
	primed bool
	handle *livequery.Handle
}

// Watch attaches a Watcher for subject through mux. The first batch only
// records a baseline.
func (c *Cache) Watch(ctx context.Context, mux *livequery.Multiplexer, subject string) (*Watcher, error) {
	desc := EdgesQuery(subject)
	q, err := query.Build(desc)
	if err != nil {
		return nil, err
	}
	w := &Watcher{c: c, subject: subject}
	h := mux.Attach(ctx, query.CanonicalKey(desc), q, w.onBatch)

	w.mu.Lock()
	w.handle = h
	w.mu.Unlock()
	return w, nil
}

func (w *Watcher) onBatch(docs []document.Document, err error) {
	if err != nil {
		w.c.logger.Warn("relcache watcher error", "user_id", w.subject, "error", err)
		return
	}

	next := make(map[string][]string)
	for _, d := range docs {
		b, err := model.Decode[model.Block](d)
		if err != nil {
			w.c.logger.Warn("relcache watcher decode failed", "document_id", d.ID, "error", err)
			continue
		}
		if other := b.Counterparty(w.subject); other != "" {
			next[other] = append(next[other], d.ID)
		}
	}
	for _, ids := range next {
		slices.Sort(ids)
	}

	w.mu.Lock()
	prev, primed := w.prev, w.primed
	w.prev, w.primed = next, true
	w.mu.Unlock()
	if !primed {
		return
	}

	var changed []string
	for other, ids := range next {
		if !slices.Equal(ids, prev[other]) {
			changed = append(changed, other)
		}
	}
	for other := range prev {
		if _, ok := next[other]; !ok {
			changed = append(changed, other)
		}
	}
	if len(changed) == 0 {
		return
	}
	w.c.Invalidate(w.subject, changed...)
	w.c.logger.Debug("relcache watcher invalidated", "user_id", w.subject, "pairs", len(changed))
}

// Counterparties returns the users currently sharing an edge with the
// subject, sorted.
func (w *Watcher) Counterparties() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.prev))
}

// Close detaches the watcher.
func (w *Watcher) Close() {
	w.mu.Lock()
	h := w.handle
	w.handle = nil
	w.mu.Unlock()
	h.Detach()
}
