// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package livequery

import (
	"context"
	"slices"
	"sync"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/query"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// WatchOptions configures a View.
type WatchOptions struct {
	// Live keeps the view attached to a store subscription. Otherwise the
	// view fetches once and reuses results for the one-shot TTL.
	Live bool
}

// Result is a point-in-time copy of a view's state.
type Result struct {
	Documents []document.Document
	Loading   bool
	Err       error
}

// View is one consumer's window onto a query.
type View struct {
	c    *Client
	live bool

	mu      sync.Mutex
	desc    query.Descriptor
	key     string
	q       query.Query
	active  bool // false for invalid or gated descriptors
	gen     uint64
	result  Result
	handle  *Handle
	closed  bool
	changes chan struct{}
}

// Watch opens a view of desc. Invalid descriptors, and protected collections
// while signed out, produce an empty, non-loading view without touching the
// store. A non-live view fetches before Watch returns.
func (c *Client) Watch(ctx context.Context, desc query.Descriptor, opts WatchOptions) *View {
	v := &View{
		c:       c,
		live:    opts.Live,
		changes: make(chan struct{}, 1),
	}
	v.start(ctx, desc)
	return v
}

func (v *View) start(ctx context.Context, desc query.Descriptor) {
	c := v.c
	key := query.CanonicalKey(desc)

	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.desc = desc
	v.key = key
	v.handle = nil
	v.result = Result{Documents: []document.Document{}}
	v.active = query.Validate(desc) && !c.gated(desc.Collection)
	if !v.active {
		v.mu.Unlock()
		c.logger.Debug("livequery view inactive", "key", key)
		v.notify()
		return
	}
	v.q, _ = query.Build(desc)
	q := v.q

	if !v.live {
		if docs, ok := c.cachedOneShot(key); ok {
			v.result.Documents = docs
			v.mu.Unlock()
			v.notify()
			return
		}
	}
	v.result.Loading = true
	v.mu.Unlock()

	if v.live {
		h := c.mux.Attach(ctx, key, q, func(docs []document.Document, err error) {
			v.apply(gen, docs, err)
		})
		v.mu.Lock()
		if v.closed || v.gen != gen {
			v.mu.Unlock()
			h.Detach()
			return
		}
		v.handle = h
		v.mu.Unlock()
		return
	}

	docs, err := c.src.Fetch(ctx, q)
	if err == nil {
		c.storeOneShot(key, docs)
	}
	v.apply(gen, docs, err)
}

// apply records a result for generation gen. Results for an older
// generation, or arriving after Close, are dropped.
func (v *View) apply(gen uint64, docs []document.Document, err error) {
	v.mu.Lock()
	if v.closed || gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.result.Loading = false
	if err != nil {
		v.result.Err = huddleerr.With(err, huddleerr.FieldQueryKey(v.key))
	} else {
		if docs == nil {
			docs = []document.Document{}
		}
		v.result.Documents = docs
		v.result.Err = nil
	}
	v.mu.Unlock()
	v.notify()
}

func (v *View) notify() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns the current state. On a store error the last good
// documents are kept alongside Err.
func (v *View) Snapshot() Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.result
	r.Documents = slices.Clone(r.Documents)
	return r
}

// Changes signals after the state changes. Signals coalesce; read Snapshot
// after each one. The channel is closed by Close.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

// Descriptor returns the current descriptor.
func (v *View) Descriptor() query.Descriptor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.desc
}

// Key returns the canonical key of the current descriptor.
func (v *View) Key() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

// Refresh re-fetches the query once and updates the one-shot cache. A live
// view also republishes the result to every listener of its key.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return huddleerr.New(huddleerr.CodeLivequeryClosed, "view closed")
	}
	if !v.active {
		v.mu.Unlock()
		return nil
	}
	q, key, gen, live := v.q, v.key, v.gen, v.live
	v.mu.Unlock()

	docs, err := v.c.src.Fetch(ctx, q)
	if err != nil {
		v.apply(gen, nil, err)
		return huddleerr.With(err, huddleerr.FieldQueryKey(key))
	}
	v.c.storeOneShot(key, docs)
	if !live || !v.c.mux.Publish(key, docs) {
		v.apply(gen, docs, nil)
	}
	return nil
}

// Retarget switches the view to desc. The old key is detached before the
// new one is attached. Retargeting to an equivalent descriptor is a no-op.
func (v *View) Retarget(ctx context.Context, desc query.Descriptor) {
	v.mu.Lock()
	if v.closed || query.CanonicalKey(desc) == v.key {
		v.mu.Unlock()
		return
	}
	old := v.handle
	v.handle = nil
	v.mu.Unlock()

	old.Detach()
	v.start(ctx, desc)
}

// Close detaches the view. Results that arrive later are discarded.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	h := v.handle
	v.handle = nil
	close(v.changes)
	v.mu.Unlock()

	h.Detach()
}

// TypedView decodes a View's documents into records.
type TypedView[T any] struct {
	*View
	decode model.Decoder[T]
}

// WatchAs opens a view whose documents decode into T. A nil decode uses
// model.Decode.
func WatchAs[T any](ctx context.Context, c *Client, desc query.Descriptor, opts WatchOptions, decode model.Decoder[T]) *TypedView[T] {
	if decode == nil {
		decode = model.Decode[T]
	}
	return &TypedView[T]{View: c.Watch(ctx, desc, opts), decode: decode}
}

// Items decodes the current documents. A document that fails to decode
// fails the whole call.
func (v *TypedView[T]) Items() ([]T, error) {
	snap := v.Snapshot()
	if snap.Err != nil {
		return nil, snap.Err
	}
	out := make([]T, 0, len(snap.Documents))
	for _, d := range snap.Documents {
		item, err := v.decode(d)
		if err != nil {
			v.c.logger.Warn("livequery decode failed", "key", v.Key(), "document_id", d.ID, "error", err)
			return nil, huddleerr.With(err, huddleerr.FieldQueryKey(v.Key()))
		}
		out = append(out, item)
	}
	return out, nil
}
