// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package store defines the document store contract the live-query layer is
// built on, plus the pieces shared by its backends.
package store

import (
	"context"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
)

// ChangeFunc receives the full result set of a subscribed query each time it
// changes. On failure docs is empty, never nil, and err is set.
type ChangeFunc func(docs []document.Document, err error)

// Unsubscribe releases a subscription. It is safe to call more than once.
type Unsubscribe func()

// Fetcher runs one-shot queries.
type Fetcher interface {
	Fetch(ctx context.Context, q query.Query) ([]document.Document, error)
}

// Subscriber opens live queries. ctx bounds only the opening call; the
// subscription lives until Unsubscribe is called. The first callback carries
// the initial result set. Callbacks for one subscription never overlap.
type Subscriber interface {
	Subscribe(ctx context.Context, q query.Query, fn ChangeFunc) (Unsubscribe, error)
}

// Mutator writes documents.
type Mutator interface {
	// Create inserts doc. An empty ID is replaced by a generated one.
	Create(ctx context.Context, collection string, doc document.Document) (document.Document, error)
	// Update merges fields into an existing document; nil values delete keys.
	Update(ctx context.Context, collection, id string, fields map[string]any) (document.Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Store is a complete document store backend.
type Store interface {
	Fetcher
	Subscriber
	Mutator
	Close() error
}
