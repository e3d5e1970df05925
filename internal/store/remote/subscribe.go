// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package remote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

type subscription struct {
	s      *Store
	q      query.Query
	fn     store.ChangeFunc
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	closed atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

// Subscribe opens a watch socket for q. The initial result set is delivered
// before Subscribe returns. When the socket drops, fn receives a transport
// error and the subscription reconnects with capped exponential backoff;
// the first snapshot after reconnecting is the full current result.
// A gateway that refuses the query (bad query, signed out) ends the
// subscription after delivering the refusal.
func (s *Store) Subscribe(ctx context.Context, q query.Query, fn store.ChangeFunc) (store.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{s: s, q: q, fn: fn, ctx: subCtx, cancel: cancel}

	conn, docs, err := sub.open(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil, store.ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.setConn(conn)
	sub.deliver(docs, nil)
	go sub.run(conn)
	return sub.close, nil
}

// open dials the gateway, subscribes and waits for the first frame.
func (sub *subscription) open(ctx context.Context) (*websocket.Conn, []document.Document, error) {
	s := sub.s
	header := http.Header{}
	s.authHeader(header)

	dialer := websocket.Dialer{HandshakeTimeout: openTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.watch, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, nil, wire.StatusError(resp.StatusCode, errorMessage(resp), sub.q.Collection, "")
		}
		return nil, nil, huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "dialing gateway",
			huddleerr.FieldCollection(sub.q.Collection),
		)
	}

	ok := false
	defer func() {
		if !ok {
			_ = conn.Close()
		}
	}()

	q := sub.q
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wire.Frame{Type: wire.FrameSubscribe, Query: &q}); err != nil {
		return nil, nil, huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "sending subscribe")
	}
	_ = conn.SetReadDeadline(time.Now().Add(openTimeout))
	var f wire.Frame
	if err := conn.ReadJSON(&f); err != nil {
		return nil, nil, huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "waiting for first snapshot")
	}
	switch {
	case f.Type == wire.FrameError && f.Error != nil:
		return nil, nil, huddleerr.With(f.Error.Err(), huddleerr.FieldCollection(sub.q.Collection))
	case f.Type != wire.FrameSnapshot:
		return nil, nil, huddleerr.Errorf(huddleerr.CodeStoreTransportFailure, "unexpected %q frame", f.Type)
	}

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	ok = true
	if f.Documents == nil {
		f.Documents = []document.Document{}
	}
	return conn, f.Documents, nil
}

func (sub *subscription) run(conn *websocket.Conn) {
	for {
		err := sub.read(conn)
		_ = conn.Close()
		if sub.closed.Load() {
			return
		}
		sub.s.logger.Warn("watch socket dropped", "collection", sub.q.Collection, "error", err)
		sub.s.failed(time.Now().Add(sub.s.minBackoff))
		sub.deliver([]document.Document{}, err)

		if conn = sub.reconnect(); conn == nil {
			return
		}
	}
}

// read delivers frames until the socket fails.
func (sub *subscription) read(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		var f wire.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return huddleerr.Wrap(err, huddleerr.CodeStoreTransportFailure, "reading watch socket",
				huddleerr.FieldCollection(sub.q.Collection),
			)
		}
		switch f.Type {
		case wire.FrameSnapshot:
			if f.Documents == nil {
				f.Documents = []document.Document{}
			}
			sub.deliver(f.Documents, nil)
		case wire.FrameError:
			if f.Error != nil {
				sub.deliver(nil, f.Error.Err())
			}
		}
	}
}

// reconnect retries open until it succeeds, the gateway refuses, or the
// subscription closes. It returns nil in the last two cases.
func (sub *subscription) reconnect() *websocket.Conn {
	s := sub.s
	delay := s.minBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-sub.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, docs, err := sub.open(sub.ctx)
		if err == nil {
			s.reached()
			sub.setConn(conn)
			if sub.closed.Load() {
				_ = conn.Close()
				return nil
			}
			s.logger.Info("watch socket reconnected", "collection", sub.q.Collection, "attempts", attempt)
			sub.deliver(docs, nil)
			return conn
		}
		if sub.closed.Load() {
			return nil
		}
		if huddleerr.IsUnauthorized(err) || huddleerr.IsInvalidInput(err) {
			s.logger.Warn("watch refused on reconnect", "collection", sub.q.Collection, "error", err)
			sub.deliver([]document.Document{}, err)
			sub.close()
			return nil
		}
		delay = min(delay*2, s.maxBackoff)
		s.failed(time.Now().Add(delay))
		s.logger.Debug("watch reconnect failed", "collection", sub.q.Collection, "attempt", attempt, "retry_in", delay, "error", err)
	}
}

func (sub *subscription) setConn(conn *websocket.Conn) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.conn = conn
}

func (sub *subscription) deliver(docs []document.Document, err error) {
	if sub.closed.Load() {
		return
	}
	sub.fn(docs, err)
}

// close ends the subscription. It may be called from inside the callback.
func (sub *subscription) close() {
	sub.once.Do(func() {
		sub.closed.Store(true)
		sub.cancel()

		sub.mu.Lock()
		conn := sub.conn
		sub.conn = nil
		sub.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}

		sub.s.mu.Lock()
		delete(sub.s.subs, sub)
		sub.s.mu.Unlock()
	})
}
