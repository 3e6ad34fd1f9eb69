// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package datastore provides a small namespaced key-value store backed by
// either a bbolt database through walletdb, or a SQL database.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned for an empty namespace or key.
	ErrEmptyKey = errors.New("namespace and key must not be empty")
)

// Type names a datastore backend.
type Type string

const (
	// TypeBdb is a bbolt file managed through walletdb.
	TypeBdb Type = "bdb"

	// TypeSQLite is a SQLite file.
	TypeSQLite Type = "sqlite"

	// TypePostgres is a Postgres database.
	TypePostgres Type = "postgres"
)

const (
	// DefaultDBTimeout is how long to wait for the bbolt file lock.
	DefaultDBTimeout = 60 * time.Second

	bdbFilename    = "consolidator.db"
	sqliteFilename = "consolidator.sqlite"
)

// Store is a namespaced key-value store.
type Store interface {
	// Get returns the value of key in namespace, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Put creates or replaces the value of key in namespace.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes key from namespace. Removing an absent key is not
	// an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases the underlying database.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type Type

	// DataDir holds the bdb and sqlite files.
	DataDir string

	// DSN is the Postgres connection string.
	DSN string

	// Timeout is the bbolt file lock timeout.
	Timeout time.Duration
}

// Open opens, creating if needed, the store described by cfg.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Type {
	case TypeBdb, "":
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultDBTimeout
		}

		return OpenKVStore(filepath.Join(cfg.DataDir, bdbFilename),
			timeout)

	case TypeSQLite:
		return OpenSQLite(ctx, filepath.Join(cfg.DataDir, sqliteFilename))

	case TypePostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres store requires a DSN")
		}

		return OpenPostgres(ctx, cfg.DSN)

	default:
		return nil, fmt.Errorf("unknown datastore type %q", cfg.Type)
	}
}

func checkKey(namespace, key string) error {
	if namespace == "" || key == "" {
		return ErrEmptyKey
	}

	return nil
}
