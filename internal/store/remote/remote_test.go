// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package remote_test

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/identity"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/server"
	"github.com/sigil-dev/huddle/internal/store"
	"github.com/sigil-dev/huddle/internal/store/memory"
	"github.com/sigil-dev/huddle/internal/store/remote"
	"github.com/sigil-dev/huddle/internal/store/storetest"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

type gateway struct {
	url    string
	store  *memory.Store
	tokens *identity.Tokens

	mu    sync.Mutex
	conns []net.Conn
}

// hijackTracker records upgraded connections so tests can drop them.
type hijackTracker struct {
	http.ResponseWriter
	g *gateway
}

func (h hijackTracker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(h.ResponseWriter).Hijack()
	if err == nil {
		h.g.mu.Lock()
		h.g.conns = append(h.g.conns, conn)
		h.g.mu.Unlock()
	}
	return conn, rw, err
}

func (h hijackTracker) Unwrap() http.ResponseWriter { return h.ResponseWriter }

func (g *gateway) dropSockets() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		_ = c.Close()
	}
	g.conns = nil
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	tokens, err := identity.NewTokens("remote-test")
	require.NoError(t, err)
	st := memory.New()
	svc, err := server.NewServices(st, server.WithBackendName("memory"), server.WithTokens(tokens))
	require.NoError(t, err)
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, svc)
	require.NoError(t, err)

	g := &gateway{store: st, tokens: tokens}
	h := srv.Handler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(hijackTracker{ResponseWriter: w, g: g}, r)
	}))
	t.Cleanup(func() {
		g.dropSockets()
		ts.Close()
		_ = srv.Close()
		_ = st.Close()
	})
	g.url = ts.URL
	return g
}

func (g *gateway) client(t *testing.T, user string, opts ...remote.Option) *remote.Store {
	t.Helper()
	if user != "" {
		tok, err := g.tokens.Issue(user)
		require.NoError(t, err)
		opts = append(opts, remote.WithToken(func() string { return tok }))
	}
	c, err := remote.New(g.url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newGateway(t).client(t, "alice")
	})
}

func TestNew_Address(t *testing.T) {
	_, err := remote.New("127.0.0.1:18790")
	assert.NoError(t, err)
	_, err = remote.New("https://huddle.example/base")
	assert.NoError(t, err)

	for _, addr := range []string{"", "ftp://huddle.example"} {
		_, err := remote.New(addr)
		assert.True(t, huddleerr.IsInvalidInput(err), "addr %q", addr)
	}
}

func TestOpen_RegistersBackend(t *testing.T) {
	g := newGateway(t)

	s, err := store.Open(&store.StorageConfig{Backend: "remote", Path: g.url})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Create(context.Background(), "messages", document.New("m1", map[string]any{"text": "hi"}))
	require.NoError(t, err)
	docs, err := g.store.Fetch(context.Background(), query.Query{Collection: "messages"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, document.IDs(docs))
}

func TestFetch_ProtectedNeedsToken(t *testing.T) {
	g := newGateway(t)

	_, err := g.client(t, "").Fetch(context.Background(), query.Query{Collection: "users"})
	require.Error(t, err)
	assert.True(t, huddleerr.IsUnauthorized(err))

	bad, err := remote.New(g.url, remote.WithToken(func() string { return "garbage" }))
	require.NoError(t, err)
	defer bad.Close()
	_, err = bad.Fetch(context.Background(), query.Query{Collection: "messages"})
	assert.True(t, huddleerr.IsUnauthorized(err), "a bad token fails even on open collections")
}

func TestFetch_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	c, err := remote.New(addr)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), query.Query{Collection: "messages"})
	require.Error(t, err)
	assert.True(t, huddleerr.IsTransportFailure(err))

	h := c.Health()
	assert.False(t, h.Available)
	assert.Equal(t, int64(1), h.FailureCount)
	assert.NotNil(t, h.LastFailureAt)
}

func TestHealth_RecoversOnResponse(t *testing.T) {
	g := newGateway(t)
	c := g.client(t, "")
	assert.True(t, c.Health().Available)

	// Error statuses still mean the gateway answered.
	_, err := c.Fetch(context.Background(), query.Query{Collection: "users"})
	require.True(t, huddleerr.IsUnauthorized(err))
	assert.True(t, c.Health().Available)
	assert.Zero(t, c.Health().FailureCount)
}

type recorder struct {
	mu      sync.Mutex
	results [][]string
	errs    []error
}

func (r *recorder) fn(docs []document.Document, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.results = append(r.results, document.IDs(docs))
}

func (r *recorder) latest() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return nil
	}
	return r.results[len(r.results)-1]
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestSubscribe_InitialResultBeforeReturn(t *testing.T) {
	g := newGateway(t)
	_, err := g.store.Create(context.Background(), "messages", document.New("m1", nil))
	require.NoError(t, err)

	var rec recorder
	unsub, err := g.client(t, "").Subscribe(context.Background(), query.Query{Collection: "messages"}, rec.fn)
	require.NoError(t, err)
	defer unsub()

	assert.Equal(t, []string{"m1"}, rec.latest())
}

func TestSubscribe_Refused(t *testing.T) {
	g := newGateway(t)

	_, err := g.client(t, "").Subscribe(context.Background(), query.Query{Collection: "users"}, func([]document.Document, error) {})
	require.Error(t, err)
	assert.True(t, huddleerr.IsUnauthorized(err))

	bad, err := remote.New(g.url, remote.WithToken(func() string { return "garbage" }))
	require.NoError(t, err)
	defer bad.Close()
	_, err = bad.Subscribe(context.Background(), query.Query{Collection: "messages"}, func([]document.Document, error) {})
	require.Error(t, err)
	assert.True(t, huddleerr.IsUnauthorized(err))
}

func TestSubscribe_ReconnectsAfterDrop(t *testing.T) {
	g := newGateway(t)
	c := g.client(t, "", remote.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	ctx := context.Background()
	_, err := g.store.Create(ctx, "messages", document.New("m1", nil))
	require.NoError(t, err)

	var rec recorder
	unsub, err := c.Subscribe(ctx, query.Query{Collection: "messages"}, rec.fn)
	require.NoError(t, err)
	defer unsub()

	g.dropSockets()
	require.Eventually(t, func() bool { return len(rec.errors()) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, huddleerr.IsTransportFailure(rec.errors()[0]))

	// Writes made while disconnected show up in the first snapshot after
	// reconnecting.
	_, err = g.store.Create(ctx, "messages", document.New("m2", nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"m1", "m2"}, rec.latest())
	}, 5*time.Second, 10*time.Millisecond)

	_, err = g.store.Create(ctx, "messages", document.New("m3", nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"m1", "m2", "m3"}, rec.latest())
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Subscriptions())
}

func TestClose(t *testing.T) {
	g := newGateway(t)
	c := g.client(t, "")

	var rec recorder
	_, err := c.Subscribe(context.Background(), query.Query{Collection: "messages"}, rec.fn)
	require.NoError(t, err)
	require.Equal(t, 1, c.Subscriptions())
	require.Equal(t, 1, g.store.Watchers())

	require.NoError(t, c.Close())
	assert.Zero(t, c.Subscriptions())
	require.Eventually(t, func() bool { return g.store.Watchers() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err = c.Fetch(context.Background(), query.Query{Collection: "messages"})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = c.Subscribe(context.Background(), query.Query{Collection: "messages"}, rec.fn)
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.Empty(t, rec.errors(), "closing does not report errors")
}
