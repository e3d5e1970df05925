// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package remote is a store backend that talks to a huddle gateway over
// HTTP, with live queries carried on websockets.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
	"github.com/sigil-dev/huddle/pkg/health"
)

// Reconnect backoff defaults.
const (
	DefaultMinBackoff = 250 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

const (
	openTimeout = 10 * time.Second
	readTimeout = 90 * time.Second
	writeWait   = 10 * time.Second
)

func init() {
	store.RegisterBackend("remote", func(cfg *store.StorageConfig) (store.Store, error) {
		return New(cfg.Path, WithToken(cfg.Token))
	})
}

// Store is a client for a gateway.
type Store struct {
	base       *url.URL
	watch      string
	client     *http.Client
	token      func() string
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
	health health.Tracker
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithToken sets the bearer token source. It is called for every request, so
// a signed-in session can change underneath the store.
func WithToken(token func() string) Option {
	return func(s *Store) { s.token = token }
}

// WithBackoff bounds the delay between websocket reconnect attempts.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(s *Store) {
		s.minBackoff = minDelay
		s.maxBackoff = maxDelay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a client for the gateway at addr, either host:port or an
// http(s) URL.
func New(addr string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, store.InvalidInput("gateway address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, store.InvalidInput("parsing gateway address", huddleerr.Field("addr", addr))
	}
	ws := *base
	switch base.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, store.InvalidInput("gateway address must be http or https", huddleerr.Field("addr", addr))
	}
	ws.Path = strings.TrimSuffix(base.Path, "/") + wire.PathWatch

	s := &Store{
		base:       base,
		watch:      ws.String(),
		client:     http.DefaultClient,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		subs:       make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.token == nil {
		s.token = func() string { return "" }
	}
	return s, nil
}

func (s *Store) endpoint(pattern, collection, id string) string {
	path := strings.NewReplacer("{collection}", url.PathEscape(collection), "{id}", url.PathEscape(id)).Replace(pattern)
	return strings.TrimSuffix(s.base.String(), "/") + path
}

func (s *Store) authHeader(h http.Header) {
	if tok := s.token(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// call sends body as JSON and decodes a successful response into out.
func (s *Store) call(ctx context.Context, method, endpoint, collection, id string, body, out any) error {
	if s.isClosed() {
		return store.ErrClosed
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return store.InvalidInput("encoding request: "+err.Error(), huddleerr.FieldCollection(collection))
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	s.authHeader(req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		s.failed(time.Time{})
		return huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "calling gateway",
			huddleerr.FieldCollection(collection),
		)
	}
	defer resp.Body.Close()
	s.reached()

	if resp.StatusCode >= http.StatusBadRequest {
		return wire.StatusError(resp.StatusCode, errorMessage(resp), collection, id)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "decoding gateway response",
			huddleerr.FieldCollection(collection),
		)
	}
	return nil
}

// errorMessage extracts the detail of a huma error body, falling back to
// the status text.
func errorMessage(resp *http.Response) string {
	var model huma.ErrorModel
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, &model) == nil {
		if model.Detail != "" {
			return model.Detail
		}
		if model.Title != "" {
			return model.Title
		}
	}
	return http.StatusText(resp.StatusCode)
}

// Fetch runs q on the gateway.
func (s *Store) Fetch(ctx context.Context, q query.Query) ([]document.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out struct {
		Documents []document.Document `json:"documents"`
	}
	if err := s.call(ctx, http.MethodPost, s.endpoint(wire.PathQuery, q.Collection, ""), q.Collection, "", q, &out); err != nil {
		return nil, err
	}
	if out.Documents == nil {
		out.Documents = []document.Document{}
	}
	return out.Documents, nil
}

// Create inserts doc; the gateway assigns an ID when it is empty.
func (s *Store) Create(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	if collection == "" {
		return document.Document{}, store.InvalidInput("collection is required")
	}
	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	body := struct {
		ID     string         `json:"id,omitempty"`
		Fields map[string]any `json:"fields"`
	}{ID: doc.ID, Fields: fields}

	var out document.Document
	err := s.call(ctx, http.MethodPost, s.endpoint(wire.PathDocuments, collection, ""), collection, doc.ID, body, &out)
	return out, err
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) (document.Document, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	body := struct {
		Fields map[string]any `json:"fields"`
	}{Fields: fields}

	var out document.Document
	err := s.call(ctx, http.MethodPatch, s.endpoint(wire.PathDocument, collection, id), collection, id, body, &out)
	return out, err
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.call(ctx, http.MethodDelete, s.endpoint(wire.PathDocument, collection, id), collection, id, nil, nil)
}

// Close ends every subscription. Later calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) failed(retryAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Failure(time.Now(), retryAt)
}

func (s *Store) reached() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Success()
}

// Health reports whether the gateway was reachable on the last request or
// reconnect attempt.
func (s *Store) Health() health.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health.Metrics(time.Now())
}

// Subscriptions returns the number of live websocket subscriptions.
func (s *Store) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
