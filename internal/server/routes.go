// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/wire"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        wire.PathStatus,
		Summary:     "Gateway status",
		Tags:        []string{"system"},
	}, s.handleStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-documents",
		Method:      http.MethodPost,
		Path:        wire.PathQuery,
		Summary:     "Run a one-shot query",
		Tags:        []string{"documents"},
	}, s.handleQuery)

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          wire.PathDocuments,
		Summary:       "Create a document",
		Tags:          []string{"documents"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreate)

	huma.Register(s.api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        wire.PathDocument,
		Summary:     "Merge fields into a document",
		Description: "Fields set to null are removed.",
		Tags:        []string{"documents"},
	}, s.handleUpdate)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-document",
		Method:        http.MethodDelete,
		Path:          wire.PathDocument,
		Summary:       "Delete a document",
		Tags:          []string{"documents"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDelete)
}

// StatusBody reports the backend and open watch sockets.
type StatusBody struct {
	Status  string `json:"status" example:"ok"`
	Backend string `json:"backend" example:"sqlite"`
	Watches int64  `json:"watches" doc:"Open watch sockets"`
}

type statusOutput struct {
	Body StatusBody
}

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	return &statusOutput{Body: StatusBody{
		Status:  "ok",
		Backend: s.svc.backend,
		Watches: s.svc.watches.Load(),
	}}, nil
}

type queryInput struct {
	Collection string `path:"collection"`
	Body       query.Query
}

// DocumentsBody is a query result in store order.
type DocumentsBody struct {
	Documents []document.Document `json:"documents"`
}

type documentsOutput struct {
	Body DocumentsBody
}

func (s *Server) handleQuery(ctx context.Context, in *queryInput) (*documentsOutput, error) {
	q := in.Body
	q.Collection = in.Collection
	if err := q.Validate(); err != nil {
		return nil, httpError(err)
	}
	if err := s.authorize(ctx, q.Collection); err != nil {
		return nil, httpError(err)
	}

	docs, err := s.svc.store.Fetch(ctx, q)
	if err != nil {
		s.logger.Warn("query failed", "collection", q.Collection, "error", err)
		return nil, httpError(err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return &documentsOutput{Body: DocumentsBody{Documents: docs}}, nil
}

type createInput struct {
	Collection string `path:"collection"`
	Body       struct {
		ID     string         `json:"id,omitempty" doc:"Generated when empty"`
		Fields map[string]any `json:"fields"`
	}
}

type documentOutput struct {
	Body document.Document
}

func (s *Server) handleCreate(ctx context.Context, in *createInput) (*documentOutput, error) {
	if err := s.authorize(ctx, in.Collection); err != nil {
		return nil, httpError(err)
	}
	doc, err := s.svc.store.Create(ctx, in.Collection, document.New(in.Body.ID, in.Body.Fields))
	if err != nil {
		return nil, httpError(err)
	}
	s.logger.Debug("document created", "collection", in.Collection, "document_id", doc.ID)
	return &documentOutput{Body: doc}, nil
}

type updateInput struct {
	Collection string `path:"collection"`
	ID         string `path:"id"`
	Body       struct {
		Fields map[string]any `json:"fields"`
	}
}

func (s *Server) handleUpdate(ctx context.Context, in *updateInput) (*documentOutput, error) {
	if err := s.authorize(ctx, in.Collection); err != nil {
		return nil, httpError(err)
	}
	doc, err := s.svc.store.Update(ctx, in.Collection, in.ID, in.Body.Fields)
	if err != nil {
		return nil, httpError(err)
	}
	return &documentOutput{Body: doc}, nil
}

type deleteInput struct {
	Collection string `path:"collection"`
	ID         string `path:"id"`
}

func (s *Server) handleDelete(ctx context.Context, in *deleteInput) (*struct{}, error) {
	if err := s.authorize(ctx, in.Collection); err != nil {
		return nil, httpError(err)
	}
	if err := s.svc.store.Delete(ctx, in.Collection, in.ID); err != nil {
		return nil, httpError(err)
	}
	return nil, nil
}
