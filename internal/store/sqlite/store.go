// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package sqlite is the default document store backend. Documents live in a
// single table as JSON; queries compile to json_extract expressions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/huddle/internal/document"
	"github.com/sigil-dev/huddle/internal/query"
	"github.com/sigil-dev/huddle/internal/store"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	hub *store.Hub
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// documents table.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, huddleerr.Wrap(err, huddleerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, huddleerr.Wrap(err, huddleerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, huddleerr.Wrap(err, huddleerr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	s := &Store{db: db}
	s.hub = store.NewHub(s.Fetch, logger)
	return s, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_updated ON documents(collection, updated_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close drops subscriptions and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// Fetch runs q once.
func (s *Store) Fetch(ctx context.Context, q query.Query) ([]document.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	c, err := compileQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, c.sql, c.args...)
	if err != nil {
		return nil, dbError(err, "querying documents", q.Collection)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var (
			id   string
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, dbError(err, "scanning document", q.Collection)
		}
		doc, err := decodeRow(id, data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "iterating documents", q.Collection)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

// Subscribe opens a watch query. Changes made through this Store are
// delivered; writes by other processes sharing the file are not observed.
func (s *Store) Subscribe(ctx context.Context, q query.Query, fn store.ChangeFunc) (store.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, q, fn)
}

// Create inserts doc, assigning a UUID when the ID is empty.
func (s *Store) Create(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	if collection == "" {
		return document.Document{}, store.InvalidInput("collection is required")
	}
	if doc.ID == "" {
		doc.ID = store.NewID()
	}
	doc = doc.Clone()
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return document.Document{}, store.InvalidInput(fmt.Sprintf("encoding fields: %v", err), huddleerr.FieldDocumentID(doc.ID))
	}

	const q = `INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, collection, doc.ID, string(data), time.Now().UnixMilli()); err != nil {
		if isConstraint(err) {
			return document.Document{}, store.Conflict(collection, doc.ID)
		}
		return document.Document{}, dbError(err, "inserting document", collection)
	}

	s.hub.Notify(ctx, collection)
	return doc, nil
}

// Update merges fields into an existing document inside one transaction.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) (document.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return document.Document{}, dbError(err, "beginning tx", collection)
	}
	defer tx.Rollback() //nolint:errcheck

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, store.NotFound(collection, id)
	}
	if err != nil {
		return document.Document{}, dbError(err, "reading document", collection)
	}

	cur, err := decodeRow(id, data)
	if err != nil {
		return document.Document{}, err
	}
	next := cur.Merge(fields)
	encoded, err := json.Marshal(next.Fields)
	if err != nil {
		return document.Document{}, store.InvalidInput(fmt.Sprintf("encoding fields: %v", err), huddleerr.FieldDocumentID(id))
	}

	const q = `UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, q, string(encoded), time.Now().UnixMilli(), collection, id); err != nil {
		return document.Document{}, dbError(err, "updating document", collection)
	}
	if err := tx.Commit(); err != nil {
		return document.Document{}, dbError(err, "committing update", collection)
	}

	s.hub.Notify(ctx, collection)
	return next, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return dbError(err, "deleting document", collection)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "checking rows", collection)
	}
	if rows == 0 {
		return store.NotFound(collection, id)
	}

	s.hub.Notify(ctx, collection)
	return nil
}

// Watchers returns the number of open watch queries.
func (s *Store) Watchers() int {
	return s.hub.Len()
}

func decodeRow(id, data string) (document.Document, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return document.Document{}, huddleerr.Wrap(err, huddleerr.CodeStoreDecodeInvalid, "decoding stored document",
			huddleerr.FieldDocumentID(id),
		)
	}
	return document.Document{ID: id, Fields: fields}, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func dbError(err error, msg, collection string) error {
	return huddleerr.Wrap(errors.Join(store.ErrDatabase, err), huddleerr.CodeStoreDatabaseFailure, msg,
		huddleerr.FieldCollection(collection),
	)
}
