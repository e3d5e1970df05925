// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// BackendFactory opens a store from its configuration.
type BackendFactory func(cfg *StorageConfig) (Store, error)

var (
	backends   = map[string]BackendFactory{}
	backendsMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the store for cfg using the registered backend.
func Open(cfg *StorageConfig) (Store, error) {
	backend := resolveBackend(cfg)

	backendsMu.RLock()
	factory, ok := backends[backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, huddleerr.Errorf(huddleerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return factory(cfg)
}

// NewID returns a fresh document ID for backends that assign IDs.
func NewID() string {
	return uuid.NewString()
}

// NotFound builds the error backends return for a missing document.
func NotFound(collection, id string) error {
	return huddleerr.Wrap(ErrNotFound, huddleerr.CodeStoreDocumentNotFound, "document not found",
		huddleerr.FieldCollection(collection),
		huddleerr.FieldDocumentID(id),
	)
}

// Conflict builds the error backends return for a duplicate ID.
func Conflict(collection, id string) error {
	return huddleerr.Wrap(ErrConflict, huddleerr.CodeStoreConflict, "document already exists",
		huddleerr.FieldCollection(collection),
		huddleerr.FieldDocumentID(id),
	)
}

// InvalidInput builds the error backends return for malformed arguments.
func InvalidInput(msg string, fields ...huddleerr.Attr) error {
	return huddleerr.Wrap(ErrInvalidInput, huddleerr.CodeStoreInvalidInput, msg, fields...)
}
