// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package livequery

import (
	"context"
	"slices"
	"sync"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/metrics"
	"github.com/sigil-dev/huddle/internal/query"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// PageOptions configures a Pager.
type PageOptions struct {
	// PageSize bounds every page. Zero uses the Client default.
	PageSize int
	// Live keeps the first page attached to a store subscription.
	Live bool
}

// PageState is the pager's position in its load cycle.
type PageState string

const (
	PageIdle           PageState = "idle"
	PageLoadingInitial PageState = "loading_initial"
	PageReady          PageState = "ready"
	PageLoadingMore    PageState = "loading_more"
	PageExhausted      PageState = "exhausted"
)

// PageSnapshot is a point-in-time copy of a pager's state. Documents are
// always oldest first.
type PageSnapshot struct {
	Documents []document.Document
	HasMore   bool
	Loading   bool
	State     PageState
	Err       error
}

// Pager loads a query's history page by page while keeping the newest page
// live.
type Pager struct {
	c        *Client
	pageSize int
	live     bool

	mu          sync.Mutex
	key         string
	q           query.Query
	active      bool
	gen         uint64
	docs        []document.Document // store order
	cursor      *query.Cursor
	hasMore     bool
	loading     bool
	initialized bool
	err         error
	handle      *Handle
	closed      bool
	changes     chan struct{}
}

// Paginate opens a pager over desc. desc's own limit is replaced by the
// page size.
func (c *Client) Paginate(ctx context.Context, desc query.Descriptor, opts PageOptions) *Pager {
	size := opts.PageSize
	if size <= 0 {
		size = c.pageSize
	}
	p := &Pager{
		c:        c,
		pageSize: size,
		live:     opts.Live,
		changes:  make(chan struct{}, 1),
	}
	p.start(ctx, desc)
	return p
}

func (p *Pager) start(ctx context.Context, desc query.Descriptor) {
	c := p.c
	desc = desc.WithLimit(p.pageSize)
	key := query.CanonicalKey(desc)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.key = key
	p.docs = nil
	p.cursor = nil
	p.hasMore = false
	p.initialized = false
	p.err = nil
	p.handle = nil
	p.active = query.Validate(desc) && !c.gated(desc.Collection)
	if !p.active {
		p.loading = false
		p.initialized = true
		p.mu.Unlock()
		p.notify()
		return
	}
	p.q, _ = query.Build(desc)
	q := p.q
	p.loading = true
	p.mu.Unlock()
	p.notify()

	if p.live {
		h := c.mux.Attach(ctx, key, q, func(docs []document.Document, err error) {
			p.onPage(gen, docs, err)
		})
		p.mu.Lock()
		if p.closed || p.gen != gen {
			p.mu.Unlock()
			h.Detach()
			return
		}
		p.handle = h
		p.mu.Unlock()
		return
	}

	docs, err := c.src.Fetch(ctx, q)
	p.onPage(gen, docs, err)
}

// onPage handles the first page, either from the initial fetch or from the
// live subscription.
func (p *Pager) onPage(gen uint64, docs []document.Document, err error) {
	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.err = huddleerr.With(err, huddleerr.FieldQueryKey(p.key))
		if !p.initialized {
			p.loading = false
		}
		p.mu.Unlock()
		p.c.metrics.PagerPages.WithLabelValues(metrics.ResultError).Inc()
		p.notify()
		return
	}
	p.err = nil

	switch {
	case !p.initialized || p.cursor == nil:
		p.reset(docs)
		p.initialized = true
		p.loading = false
		p.c.metrics.PagerPages.WithLabelValues(metrics.ResultOK).Inc()
	case len(docs) == 0:
		// The live page emptied: the collection was cleared under us.
		p.reset(docs)
	default:
		p.merge(docs)
	}
	p.mu.Unlock()
	p.notify()
}

// reset replaces everything with first, as on an initial load.
func (p *Pager) reset(first []document.Document) {
	p.docs = slices.Clone(first)
	p.cursor = nil
	if len(first) > 0 {
		c := p.q.CursorOf(first[len(first)-1])
		p.cursor = &c
	}
	p.hasMore = len(first) == p.pageSize
}

// merge folds a live first page into the loaded history. Loaded documents
// ordered at or before the page's last document are replaced by the page,
// so edits and deletions inside the live window show up; older history is
// kept. A short page covers the whole result set.
func (p *Pager) merge(page []document.Document) {
	if len(page) < p.pageSize {
		p.docs = slices.Clone(page)
		return
	}

	boundary := page[len(page)-1]
	merged := slices.Clone(page)
	seen := make(map[string]bool, len(page))
	for _, d := range page {
		seen[d.ID] = true
	}
	for _, d := range p.docs {
		if p.q.Compare(d, boundary) > 0 && !seen[d.ID] {
			merged = append(merged, d)
		}
	}
	p.docs = merged

	// Deletions can pull documents past the cursor into the live page; move
	// the cursor so LoadMore does not fetch them twice.
	if p.cursor == nil || p.q.Compare(boundary, p.cursorDoc()) > 0 {
		c := p.q.CursorOf(boundary)
		p.cursor = &c
	}
}

// cursorDoc is a stand-in document positioned at the cursor.
func (p *Pager) cursorDoc() document.Document {
	d := document.Document{ID: p.cursor.ID}
	if p.q.OrderField != "" {
		d.Fields = map[string]any{p.q.OrderField: p.cursor.Value}
	}
	return d
}

// LoadMore fetches the page after the cursor. It does nothing while a load is
// in flight, before the first page, or once history is exhausted. On failure
// the loaded documents and cursor are unchanged and the call can be retried.
func (p *Pager) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return huddleerr.New(huddleerr.CodeLivequeryClosed, "pager closed")
	}
	if !p.active || p.loading || !p.initialized || !p.hasMore || p.cursor == nil {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	cursor := *p.cursor
	q := p.q.StartAfter(cursor)
	gen, key := p.gen, p.key
	p.mu.Unlock()
	p.notify()

	page, err := p.c.src.Fetch(ctx, q)
	if err == nil {
		err = p.checkPage(q, page)
	}

	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		return nil
	}
	p.loading = false
	if err != nil {
		err = huddleerr.With(err, huddleerr.FieldQueryKey(key))
		p.err = err
		p.mu.Unlock()
		p.c.metrics.PagerPages.WithLabelValues(metrics.ResultError).Inc()
		p.c.logger.Warn("livequery load more failed", "key", key, "error", err)
		p.notify()
		return err
	}

	seen := make(map[string]bool, len(p.docs))
	for _, d := range p.docs {
		seen[d.ID] = true
	}
	for _, d := range page {
		if !seen[d.ID] {
			p.docs = append(p.docs, d)
		}
	}
	if len(page) > 0 {
		c := p.q.CursorOf(page[len(page)-1])
		p.cursor = &c
	}
	p.hasMore = len(page) == p.pageSize
	p.err = nil
	p.mu.Unlock()

	p.c.metrics.PagerPages.WithLabelValues(metrics.ResultOK).Inc()
	p.notify()
	return nil
}

// checkPage rejects a page that does not start strictly after the cursor.
// Appending it would duplicate or reorder history.
func (p *Pager) checkPage(q query.Query, page []document.Document) error {
	if len(page) == 0 {
		return nil
	}
	at := document.Document{ID: q.After.ID}
	if q.OrderField != "" {
		at.Fields = map[string]any{q.OrderField: q.After.Value}
	}
	for _, d := range page {
		if q.Compare(d, at) <= 0 {
			return huddleerr.New(huddleerr.CodeLivequeryCursorInvalid, "store returned a page that does not follow the cursor",
				huddleerr.FieldDocumentID(d.ID),
			)
		}
	}
	if len(page) > p.pageSize {
		return huddleerr.Errorf(huddleerr.CodeLivequeryCursorInvalid, "store returned %d documents for a page of %d", len(page), p.pageSize)
	}
	return nil
}

// Snapshot returns the current state with documents oldest first.
func (p *Pager) Snapshot() PageSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	docs := slices.Clone(p.docs)
	if p.q.Direction == query.Desc {
		slices.Reverse(docs)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return PageSnapshot{
		Documents: docs,
		HasMore:   p.hasMore,
		Loading:   p.loading,
		State:     p.state(),
		Err:       p.err,
	}
}

func (p *Pager) state() PageState {
	switch {
	case p.loading && !p.initialized:
		return PageLoadingInitial
	case p.loading:
		return PageLoadingMore
	case !p.initialized:
		return PageIdle
	case !p.hasMore:
		return PageExhausted
	}
	return PageReady
}

// Changes signals after the state changes. The channel is closed by Close.
func (p *Pager) Changes() <-chan struct{} {
	return p.changes
}

func (p *Pager) notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// Retarget resets the pager onto desc. Retargeting to an equivalent
// descriptor is a no-op.
func (p *Pager) Retarget(ctx context.Context, desc query.Descriptor) {
	p.mu.Lock()
	if p.closed || query.CanonicalKey(desc.WithLimit(p.pageSize)) == p.key {
		p.mu.Unlock()
		return
	}
	old := p.handle
	p.handle = nil
	p.mu.Unlock()

	old.Detach()
	p.start(ctx, desc)
}

// Close detaches the live page. In-flight loads are discarded.
func (p *Pager) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	h := p.handle
	p.handle = nil
	close(p.changes)
	p.mu.Unlock()

	h.Detach()
}
