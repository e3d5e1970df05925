// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sigil-dev/huddle/internal/document"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Fixtures maps collection names to the documents to seed into them.
//
//	rooms:
//	  - id: room1
//	    fields: {name: general, members: [alice, bob]}
type Fixtures map[string][]document.Document

// ParseFixtures decodes a YAML fixture file.
func ParseFixtures(r io.Reader) (Fixtures, error) {
	var f Fixtures
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return Fixtures{}, nil
		}
		return nil, huddleerr.Wrap(err, huddleerr.CodeStoreFixtureInvalid, "parsing fixtures")
	}
	return f, nil
}

// LoadFixtures seeds every document in r through m, collection by
// collection in name order. It returns the number of documents written.
func LoadFixtures(ctx context.Context, r io.Reader, m Mutator) (int, error) {
	f, err := ParseFixtures(r)
	if err != nil {
		return 0, err
	}

	collections := make([]string, 0, len(f))
	for c := range f {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	n := 0
	for _, c := range collections {
		for _, doc := range f[c] {
			if _, err := m.Create(ctx, c, doc); err != nil {
				return n, huddleerr.With(err, huddleerr.FieldCollection(c), huddleerr.FieldDocumentID(doc.ID))
			}
			n++
		}
	}
	return n, nil
}
