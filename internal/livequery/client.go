// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package livequery

import (
	"log/slog"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/metrics"
	"github.com/sigil-dev/huddle/internal/model"
	"github.com/sigil-dev/huddle/internal/store"
)

// Defaults for Client options.
const (
	DefaultOneShotTTL = 5 * time.Minute
	DefaultPageSize   = 30
)

// Source is the part of the store a Client reads from.
type Source interface {
	store.Fetcher
	store.Subscriber
}

// IdentitySource reports the signed-in user, or "" when signed out.
type IdentitySource interface {
	UserID() string
}

// StaticIdentity is an IdentitySource with a fixed user.
type StaticIdentity string

// UserID implements IdentitySource.
func (s StaticIdentity) UserID() string { return string(s) }

// Client is the per-process entry point for views: it owns the one-shot
// result cache and, unless one is injected, the Multiplexer.
type Client struct {
	src        Source
	mux        *Multiplexer
	ownsMux    bool
	identity   IdentitySource
	protected  map[string]bool
	oneShotTTL time.Duration
	pageSize   int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	oneShot *ttlcache.Cache[string, oneShotEntry]
}

type oneShotEntry struct {
	docs      []document.Document
	fetchedAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithMultiplexer shares an existing Multiplexer. The Client will not close it.
func WithMultiplexer(m *Multiplexer) Option {
	return func(c *Client) { c.mux = m }
}

// WithIdentity sets the source of the signed-in user.
func WithIdentity(id IdentitySource) Option {
	return func(c *Client) { c.identity = id }
}

// WithProtectedCollections replaces the set of collections that need a
// signed-in user.
func WithProtectedCollections(names ...string) Option {
	return func(c *Client) {
		c.protected = make(map[string]bool, len(names))
		for _, n := range names {
			c.protected[n] = true
		}
	}
}

// WithOneShotTTL sets how long non-live results are reused.
func WithOneShotTTL(d time.Duration) Option {
	return func(c *Client) { c.oneShotTTL = d }
}

// WithPageSize sets the default pager page size.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client reading from src.
func NewClient(src Source, opts ...Option) *Client {
	c := &Client{
		src:        src,
		oneShotTTL: DefaultOneShotTTL,
		pageSize:   DefaultPageSize,
		now:        time.Now,
	}
	WithProtectedCollections(model.DefaultProtectedCollections...)(c)
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	c.oneShot = ttlcache.New[string, oneShotEntry](
		ttlcache.WithTTL[string, oneShotEntry](c.oneShotTTL),
		ttlcache.WithDisableTouchOnHit[string, oneShotEntry](),
	)
	if c.mux == nil {
		c.mux = NewMultiplexer(src, WithMultiplexerLogger(c.logger), WithMultiplexerMetrics(c.metrics))
		c.ownsMux = true
	}
	return c
}

// Multiplexer returns the multiplexer views attach through.
func (c *Client) Multiplexer() *Multiplexer {
	return c.mux
}

// Close tears down the owned multiplexer and drops cached results.
func (c *Client) Close() {
	if c.ownsMux {
		c.mux.Close()
	}
	c.oneShot.DeleteAll()
}

// gated reports whether reads of collection must resolve to nothing because
// nobody is signed in.
func (c *Client) gated(collection string) bool {
	if !c.protected[collection] {
		return false
	}
	return c.identity == nil || c.identity.UserID() == ""
}

// cachedOneShot returns a non-expired one-shot result. Entries are also aged
// against the Client clock so an injected clock expires them.
func (c *Client) cachedOneShot(key string) ([]document.Document, bool) {
	item := c.oneShot.Get(key)
	if item == nil {
		return nil, false
	}
	e := item.Value()
	if c.now().Sub(e.fetchedAt) >= c.oneShotTTL {
		c.oneShot.Delete(key)
		return nil, false
	}
	return e.docs, true
}

func (c *Client) storeOneShot(key string, docs []document.Document) {
	c.oneShot.Set(key, oneShotEntry{docs: slices.Clone(docs), fetchedAt: c.now()}, ttlcache.DefaultTTL)
	c.oneShot.DeleteExpired()
}
