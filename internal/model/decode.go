// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package model

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/sigil-dev/huddle/internal/document"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Decoder converts a raw document into a record.
type Decoder[T any] func(document.Document) (T, error)

// Decode converts doc into T using the record's json tags. Numbers are
// weakly typed because backends differ in how they return them.
func Decode[T any](doc document.Document) (T, error) {
	var out T
	input := make(map[string]any, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		input[k] = v
	}
	input["id"] = doc.ID

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, huddleerr.Wrap(err, huddleerr.CodeStoreDecodeInvalid, "building decoder")
	}
	if err := dec.Decode(input); err != nil {
		return out, huddleerr.Wrap(err, huddleerr.CodeStoreDecodeInvalid, "decoding document",
			huddleerr.FieldDocumentID(doc.ID),
		)
	}
	return out, nil
}

// DecodeAll decodes docs in order and stops at the first failure.
func DecodeAll[T any](docs []document.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := Decode[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode converts a record back into a document. The "id" tag becomes the
// document ID and is not stored as a field.
func Encode(v any) (document.Document, error) {
	fields := map[string]any{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &fields,
	})
	if err != nil {
		return document.Document{}, huddleerr.Wrap(err, huddleerr.CodeStoreInvalidInput, "building encoder")
	}
	if err := dec.Decode(v); err != nil {
		return document.Document{}, huddleerr.Wrap(err, huddleerr.CodeStoreInvalidInput, "encoding record")
	}
	id, _ := fields["id"].(string)
	delete(fields, "id")
	return document.Document{ID: id, Fields: fields}, nil
}
