// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend string // "sqlite" (default), "memory" or "remote".
	Path    string // Data directory for sqlite; base URL for remote.
	Token   func() string
}
