// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// DatabaseFile is the file created inside the configured data directory.
const DatabaseFile = "huddle.db"

func init() {
	store.RegisterBackend("sqlite", newDocumentStore)
}

func newDocumentStore(cfg *store.StorageConfig) (store.Store, error) {
	dir := cfg.Path
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, huddleerr.Wrap(err, huddleerr.CodeStoreDatabaseFailure, "creating data directory",
			huddleerr.Field("path", dir),
		)
	}
	return New(filepath.Join(dir, DatabaseFile), nil)
}
