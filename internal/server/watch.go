// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gorilla/websocket"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

const (
	subscribeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	writeWait        = 10 * time.Second
	maxFrameBytes    = 64 << 10
)

func (s *Server) registerWatchRoute() {
	s.router.Get(wire.PathWatch, s.handleWatch)

	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "watch-query",
		Method:      http.MethodGet,
		Path:        wire.PathWatch,
		Summary:     "Watch a query over a websocket",
		Description: "Upgrade to a websocket and send one subscribe frame carrying a query. " +
			"The server answers with a snapshot frame holding the full result set every time it changes, " +
			"and error frames when the store fails. Browsers may pass the bearer token as access_token.",
		Tags: []string{"documents"},
		Parameters: []*huma.Param{
			{
				Name:        "access_token",
				In:          "query",
				Description: "Bearer token for clients that cannot set headers",
				Schema:      &huma.Schema{Type: "string"},
			},
		},
		Responses: map[string]*huma.Response{
			"101": {Description: "Switching to the websocket protocol"},
			"400": {Description: "Not a websocket upgrade"},
			"401": {Description: "Invalid token"},
		},
	})
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.cfg.CORSOrigins, origin)
		},
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("watch upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s.svc.watches.Add(1)
	defer s.svc.watches.Add(-1)

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	var sub wire.Frame
	if err := conn.ReadJSON(&sub); err != nil {
		s.logger.Debug("watch closed before subscribe", "remote", r.RemoteAddr, "error", err)
		return
	}
	if sub.Type != wire.FrameSubscribe || sub.Query == nil {
		s.refuse(conn, huddleerr.New(huddleerr.CodeServerRequestInvalid, "first frame must subscribe to a query"))
		return
	}
	q := *sub.Query
	if err := q.Validate(); err != nil {
		s.refuse(conn, err)
		return
	}
	if err := s.authorize(r.Context(), q.Collection); err != nil {
		s.refuse(conn, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	box := newMailbox()
	unsub, err := s.svc.store.Subscribe(ctx, q, func(docs []document.Document, err error) {
		if err != nil {
			box.put(wire.Frame{Type: wire.FrameError, Error: wire.NewError(err)})
			return
		}
		if docs == nil {
			docs = []document.Document{}
		}
		box.put(wire.Frame{Type: wire.FrameSnapshot, Documents: docs})
	})
	if err != nil {
		s.refuse(conn, err)
		return
	}
	defer unsub()
	s.logger.Debug("watch opened", "remote", r.RemoteAddr, "collection", q.Collection)

	// Clients send nothing after subscribing; reading only services pongs
	// and notices the socket closing.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("watch closed", "remote", r.RemoteAddr, "collection", q.Collection)
			return
		case <-box.ready:
			f, ok := box.take()
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				s.logger.Debug("watch write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// refuse sends a final error frame and closes the socket.
func (s *Server) refuse(conn *websocket.Conn, err error) {
	s.logger.Debug("watch refused", "error", err)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(wire.Frame{Type: wire.FrameError, Error: wire.NewError(err)})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(huddleerr.CodeOf(err))))
}

// mailbox holds the newest undelivered frame. A slow socket skips
// intermediate snapshots; every snapshot is a complete result set.
type mailbox struct {
	mu    sync.Mutex
	frame *wire.Frame
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) put(f wire.Frame) {
	m.mu.Lock()
	m.frame = &f
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() (wire.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return wire.Frame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}
