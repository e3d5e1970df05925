// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package document holds the loosely typed record exchanged with the store.
// Typed access goes through internal/model.
package document

import (
	"maps"
	"slices"
)

// Document is a single stored record: an ID plus arbitrary fields.
type Document struct {
	ID     string         `json:"id" yaml:"id"`
	Fields map[string]any `json:"fields" yaml:"fields"`
}

// New returns a Document with a copy of fields.
func New(id string, fields map[string]any) Document {
	return Document{ID: id, Fields: maps.Clone(fields)}
}

// Get returns the named field. The pseudo-field "id" resolves to the
// document ID when no stored field shadows it.
func (d Document) Get(field string) (any, bool) {
	if v, ok := d.Fields[field]; ok {
		return v, true
	}
	if field == "id" {
		return d.ID, true
	}
	return nil, false
}

// Clone returns a shallow copy whose field map can be mutated safely.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: maps.Clone(d.Fields)}
}

// Merge returns a copy of d with fields overlaid. A nil value deletes the key.
func (d Document) Merge(fields map[string]any) Document {
	out := d.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			delete(out.Fields, k)
			continue
		}
		out.Fields[k] = v
	}
	return out
}

// IDs returns the IDs of docs in order.
func IDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// Reversed returns a reversed copy of docs.
func Reversed(docs []Document) []Document {
	out := slices.Clone(docs)
	slices.Reverse(out)
	return out
}
