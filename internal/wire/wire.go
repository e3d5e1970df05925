// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package wire defines the JSON shapes exchanged between the gateway and the
// remote store client.
package wire

import (
	"net/http"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Gateway paths.
const (
	PathHealth    = "/health"
	PathStatus    = "/api/v1/status"
	PathMetrics   = "/metrics"
	PathWatch     = "/api/v1/watch"
	PathQuery     = "/api/v1/collections/{collection}/query"
	PathDocuments = "/api/v1/collections/{collection}/documents"
	PathDocument  = "/api/v1/collections/{collection}/documents/{id}"
)

// Frame types on the watch socket.
const (
	FrameSubscribe = "subscribe"
	FrameSnapshot  = "snapshot"
	FrameError     = "error"
)

// Frame is one websocket message. A client sends a single subscribe frame;
// the server answers with snapshot and error frames until the socket closes.
type Frame struct {
	Type      string              `json:"type"`
	Query     *query.Query        `json:"query,omitempty"`
	Documents []document.Document `json:"documents,omitempty"`
	Error     *Error              `json:"error,omitempty"`
}

// Error is the wire form of a failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError converts err for the wire.
func NewError(err error) *Error {
	code := huddleerr.CodeOf(err)
	if code == "" {
		code = huddleerr.CodeStoreTransportFailure
	}
	return &Error{Code: string(code), Message: err.Error()}
}

// Err converts a wire error back into a coded error.
func (e *Error) Err() error {
	return huddleerr.New(huddleerr.Code(e.Code), e.Message)
}

// StatusError maps an HTTP failure status to the matching store error, so
// remote callers classify failures the same way as local ones.
func StatusError(status int, msg, collection, id string) error {
	switch status {
	case http.StatusNotFound:
		return store.NotFound(collection, id)
	case http.StatusConflict:
		return store.Conflict(collection, id)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return store.InvalidInput(msg, huddleerr.FieldCollection(collection))
	case http.StatusUnauthorized, http.StatusForbidden:
		return huddleerr.New(huddleerr.CodeStorePermissionDenied, msg, huddleerr.FieldCollection(collection))
	}
	return huddleerr.Errorf(huddleerr.CodeStoreTransportFailure, "gateway returned %d: %s", status, msg)
}
