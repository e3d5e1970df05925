// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package relcache memoizes the symmetric "is either user blocking the
// other" relationship with a short TTL and resolves it for many
// counterparties in one store query.
package relcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sigil-dev/huddle/internal/metrics"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// DefaultTTL is how long a fetched pair stays valid.
const DefaultTTL = 5 * time.Minute

// Status is the relationship between A and B, seen from A.
type Status struct {
	// AToB is set when A blocks B.
	AToB bool `json:"aToB"`
	// BToA is set when B blocks A.
	BToA bool `json:"bToA"`
	// Either is AToB || BToA.
	Either bool `json:"either"`
}

// CanMessage reports whether A may send B a message.
func (s Status) CanMessage() bool { return !s.Either }

// CanViewProfile reports whether A may view B's profile. Only B blocking A
// hides the profile; A can still look at someone A blocked.
func (s Status) CanViewProfile() bool { return !s.BToA }

// CanStartConversation reports whether A may open a new conversation with B.
func (s Status) CanStartConversation() bool { return !s.Either }

// CanSendFriendRequest reports whether A may send B a friend request.
func (s Status) CanSendFriendRequest() bool { return !s.Either }

// Edge is a directed block.
type Edge struct {
	Blocker string
	Blocked string
}

// EdgeSource fetches relationship edges from the store.
type EdgeSource interface {
	// Edges returns every edge, in either direction, between subject and
	// any of counterparties, in a single round trip.
	Edges(ctx context.Context, subject string, counterparties []string) ([]Edge, error)
}

// pairKey is an unordered pair, stored sorted.
type pairKey struct {
	lo, hi string
}

func keyOf(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type entry struct {
	loToHi    bool
	hiToLo    bool
	fetchedAt time.Time
}

// statusFor orients e from a's point of view.
func (e entry) statusFor(k pairKey, a string) Status {
	s := Status{AToB: e.loToHi, BToA: e.hiToLo}
	if a != k.lo {
		s.AToB, s.BToA = e.hiToLo, e.loToHi
	}
	s.Either = s.AToB || s.BToA
	return s
}

// Cache is process-wide relationship state. Store queries run without
// holding the entry cache; an invalidation affects every read that starts
// after it.
type Cache struct {
	src     EdgeSource
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	entries *ttlcache.Cache[pairKey, entry]
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache over src.
func New(src EdgeSource, opts ...Option) *Cache {
	c := &Cache{
		src: src,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = ttlcache.New[pairKey, entry](
		ttlcache.WithTTL[pairKey, entry](c.ttl),
		ttlcache.WithDisableTouchOnHit[pairKey, entry](),
	)
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	return c
}

// lookup returns a live entry for k. Entries are also aged against the
// Cache clock so an injected clock expires them.
func (c *Cache) lookup(k pairKey) (entry, bool) {
	item := c.entries.Get(k)
	if item == nil {
		return entry{}, false
	}
	e := item.Value()
	if c.now().Sub(e.fetchedAt) >= c.ttl {
		c.entries.Delete(k)
		return entry{}, false
	}
	return e, true
}

// PairStatus returns the relationship between a and b. A miss costs one
// store query covering both directions.
func (c *Cache) PairStatus(ctx context.Context, a, b string) (Status, error) {
	if a == "" || b == "" {
		return Status{}, huddleerr.New(huddleerr.CodeRelcacheInvalidInput, "pair status needs two user IDs")
	}
	if a == b {
		c.metrics.RelcacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		return Status{}, nil
	}

	k := keyOf(a, b)
	if e, ok := c.lookup(k); ok {
		c.metrics.RelcacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		return e.statusFor(k, a), nil
	}
	c.metrics.RelcacheLookups.WithLabelValues(metrics.ResultMiss).Inc()

	fetched, err := c.fetch(ctx, a, []string{b})
	if err != nil {
		return Status{}, err
	}
	return fetched[b], nil
}

// BatchStatus returns the relationship between a and each of bs. Cached
// pairs are served from memory; every uncached counterparty is resolved by
// one shared store query. Duplicates and a itself are allowed in bs.
func (c *Cache) BatchStatus(ctx context.Context, a string, bs []string) (map[string]Status, error) {
	if a == "" {
		return nil, huddleerr.New(huddleerr.CodeRelcacheInvalidInput, "batch status needs a subject user ID")
	}

	out := make(map[string]Status, len(bs))
	var missing []string
	queued := make(map[string]bool)

	for _, b := range bs {
		if _, done := out[b]; done || queued[b] || b == "" {
			continue
		}
		if b == a {
			out[b] = Status{}
			continue
		}
		k := keyOf(a, b)
		if e, ok := c.lookup(k); ok {
			out[b] = e.statusFor(k, a)
			continue
		}
		missing = append(missing, b)
		queued[b] = true
	}

	c.metrics.RelcacheLookups.WithLabelValues(metrics.ResultHit).Add(float64(len(out)))
	if len(missing) == 0 {
		return out, nil
	}
	c.metrics.RelcacheLookups.WithLabelValues(metrics.ResultMiss).Add(float64(len(missing)))

	fetched, err := c.fetch(ctx, a, missing)
	if err != nil {
		return nil, err
	}
	for b, s := range fetched {
		out[b] = s
	}
	return out, nil
}

// fetch resolves counterparties with one source query and backfills the
// cache. Counterparties without an edge are cached as unblocked.
func (c *Cache) fetch(ctx context.Context, a string, counterparties []string) (map[string]Status, error) {
	c.metrics.RelcacheStoreQueries.Inc()
	edges, err := c.src.Edges(ctx, a, counterparties)
	if err != nil {
		c.logger.Warn("relcache lookup failed", "user_id", a, "counterparties", len(counterparties), "error", err)
		return nil, huddleerr.Wrap(err, huddleerr.CodeRelcacheLookupFailure, "fetching relationship edges",
			huddleerr.FieldUserID(a),
		)
	}

	out := make(map[string]Status, len(counterparties))
	for _, b := range counterparties {
		out[b] = Status{}
	}
	for _, e := range edges {
		switch {
		case e.Blocker == a:
			if s, ok := out[e.Blocked]; ok {
				s.AToB = true
				out[e.Blocked] = s
			}
		case e.Blocked == a:
			if s, ok := out[e.Blocker]; ok {
				s.BToA = true
				out[e.Blocker] = s
			}
		}
	}

	now := c.now()
	for b, s := range out {
		s.Either = s.AToB || s.BToA
		out[b] = s

		k := keyOf(a, b)
		e := entry{loToHi: s.AToB, hiToLo: s.BToA, fetchedAt: now}
		if a != k.lo {
			e.loToHi, e.hiToLo = s.BToA, s.AToB
		}
		c.entries.Set(k, e, ttlcache.DefaultTTL)
	}
	c.entries.DeleteExpired()

	c.logger.Debug("relcache filled", "user_id", a, "counterparties", len(counterparties), "edges", len(edges))
	return out, nil
}

// Invalidate drops the pair (a, b). With no b it drops every pair that
// includes a.
func (c *Cache) Invalidate(a string, b ...string) {
	if len(b) == 0 {
		for _, k := range c.entries.Keys() {
			if k.lo == a || k.hi == a {
				c.entries.Delete(k)
			}
		}
		return
	}
	for _, other := range b {
		c.entries.Delete(keyOf(a, other))
	}
}

// Len returns the number of cached pairs not yet swept.
func (c *Cache) Len() int {
	return c.entries.Len()
}
