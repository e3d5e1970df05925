// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package query

import (
	"github.com/sigil-dev/huddle/internal/document"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Cursor marks a position in a query's sort order: the order-field value and
// ID of the last document already loaded.
type Cursor struct {
	Value any    `json:"value"`
	ID    string `json:"id"`
}

// Query is the store-native form of a Descriptor. It is what backends and
// the remote wire protocol consume.
type Query struct {
	Collection string    `json:"collection"`
	Filter     *Filter   `json:"filter,omitempty"`
	OrderField string    `json:"order_field,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	After      *Cursor   `json:"after,omitempty"`
}

// Build translates d into a Query. It does no caching.
func Build(d Descriptor) (Query, error) {
	if !Validate(d) {
		return Query{}, huddleerr.New(huddleerr.CodeQueryBuildInvalid, "invalid query descriptor",
			huddleerr.FieldCollection(d.Collection),
		)
	}
	q := Query{
		Collection: d.Collection,
		OrderField: d.OrderField,
		Direction:  d.direction(),
		Limit:      d.Limit,
	}
	if d.Filter != nil {
		f := *d.Filter
		q.Filter = &f
	}
	return q, nil
}

// StartAfter returns a copy of q that resumes strictly after c.
func (q Query) StartAfter(c Cursor) Query {
	q.After = &c
	return q
}

// Validate checks a query received from outside the process.
func (q Query) Validate() error {
	d := Descriptor{Collection: q.Collection, Filter: q.Filter, OrderField: q.OrderField, OrderDirection: q.Direction, Limit: q.Limit}
	if !Validate(d) {
		return huddleerr.New(huddleerr.CodeQueryBuildInvalid, "invalid query", huddleerr.FieldCollection(q.Collection))
	}
	if q.Direction != "" && q.Direction != Asc && q.Direction != Desc {
		return huddleerr.Errorf(huddleerr.CodeQueryBuildInvalid, "unknown direction %q", q.Direction)
	}
	return nil
}

// CursorOf returns the cursor positioned at doc under q's ordering.
func (q Query) CursorOf(doc document.Document) Cursor {
	c := Cursor{ID: doc.ID}
	if q.OrderField != "" {
		c.Value, _ = doc.Get(q.OrderField)
	}
	return c
}

// Builder assembles a Descriptor fluently.
type Builder struct {
	d Descriptor
}

// From starts a descriptor over collection.
func From(collection string) *Builder {
	return &Builder{d: Descriptor{Collection: collection, OrderDirection: Asc}}
}

// Where sets the filter.
func (b *Builder) Where(field string, op Operator, value any) *Builder {
	b.d.Filter = &Filter{Field: field, Operator: op, Value: value}
	return b
}

// OrderBy sets the ordering field and direction.
func (b *Builder) OrderBy(field string, dir Direction) *Builder {
	b.d.OrderField = field
	b.d.OrderDirection = dir
	return b
}

// Limit bounds the result size.
func (b *Builder) Limit(n int) *Builder {
	b.d.Limit = n
	return b
}

// Descriptor returns the assembled descriptor.
func (b *Builder) Descriptor() Descriptor {
	d := b.d
	if d.Filter != nil {
		f := *d.Filter
		d.Filter = &f
	}
	return d
}
