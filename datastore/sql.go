// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavor of a SQLStore.
type Dialect uint8

const (
	// DialectSQLite is SQLite through modernc.org/sqlite.
	DialectSQLite Dialect = iota

	// DialectPostgres is Postgres through pgx.
	DialectPostgres
)

const (
	createTableSQLite = `
		CREATE TABLE IF NOT EXISTS datastore (
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (namespace, name)
		);`

	createTablePostgres = `
		CREATE TABLE IF NOT EXISTS datastore (
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			value BYTEA NOT NULL,
			PRIMARY KEY (namespace, name)
		);`

	// Both dialects accept numbered placeholders and ON CONFLICT.
	selectSQL = `SELECT value FROM datastore
		WHERE namespace = $1 AND name = $2`
	upsertSQL = `INSERT INTO datastore (namespace, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, name) DO UPDATE SET value = excluded.value`
	deleteSQL = `DELETE FROM datastore WHERE namespace = $1 AND name = $2`
)

// SQLStore is a Store on top of a SQL database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// A compile time check to ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the datastore table if needed and returns a store
// using db.
func NewSQLStore(ctx context.Context, db *sql.DB,
	dialect Dialect) (*SQLStore, error) {

	schema := createTableSQLite
	if dialect == DialectPostgres {
		schema = createTablePostgres
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("unable to create datastore table: %w",
			err)
	}

	return &SQLStore{db: db, dialect: dialect}, nil
}

// OpenSQLite opens, creating if needed, the SQLite file at dbPath.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	// Use a file-backed database with read/write/create mode and shared
	// cache.
	dsn := "file:" + dbPath + "?mode=rwc&cache=shared"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite datastore: %w", err)
	}

	// Serialize writers, SQLite only has one.
	db.SetMaxOpenConns(1)

	store, err := newPinged(ctx, db, DialectSQLite)
	if err != nil {
		return nil, err
	}
	log.Infof("Opened sqlite datastore %s", dbPath)

	return store, nil
}

// OpenPostgres connects to the Postgres database at dsn.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open postgres datastore: %w",
			err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := newPinged(ctx, db, DialectPostgres)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to postgres datastore")

	return store, nil
}

func newPinged(ctx context.Context, db *sql.DB,
	dialect Dialect) (*SQLStore, error) {

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach datastore: %w", err)
	}

	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Get returns the value of key in namespace.
func (s *SQLStore) Get(ctx context.Context, namespace, key string) ([]byte,
	error) {

	if err := checkKey(namespace, key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, selectSQL, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put creates or replaces the value of key in namespace.
func (s *SQLStore) Put(ctx context.Context, namespace, key string,
	value []byte) error {

	if err := checkKey(namespace, key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, upsertSQL, namespace, key, value)

	return err
}

// Delete removes key from namespace.
func (s *SQLStore) Delete(ctx context.Context, namespace, key string) error {
	if err := checkKey(namespace, key); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, deleteSQL, namespace, key)

	return err
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
