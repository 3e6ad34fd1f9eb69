//go:build integration_test

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sqltest provides isolated Postgres and SQLite databases for the
// integration tests of SQL backed stores.
package sqltest

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

// Engine identifies the database server a test runs against.
type Engine string

const (
	// Postgres is a database inside a shared Postgres container.
	Postgres Engine = "Postgres"

	// SQLite is a file in the test's temporary directory.
	SQLite Engine = "SQLite"
)

// DBFactory creates a fresh, isolated database for t and registers its
// cleanup.
type DBFactory func(t testing.TB) *sql.DB

// DBTestFunc is a test body run once per engine.
type DBTestFunc func(t *testing.T, engine Engine, dbFactory DBFactory)

// RunDatabaseTest runs testFunc against Postgres and SQLite in parallel
// subtests.
func RunDatabaseTest(t *testing.T, testFunc DBTestFunc) {
	t.Helper()

	engines := []struct {
		engine    Engine
		dbFactory DBFactory
	}{
		{engine: Postgres, dbFactory: NewPostgresDB},
		{engine: SQLite, dbFactory: NewSQLiteDB},
	}

	for _, e := range engines {
		t.Run(string(e.engine), func(t *testing.T) {
			t.Parallel()
			testFunc(t, e.engine, e.dbFactory)
		})
	}
}

// deterministicTestID hashes the test name into a short identifier. A
// stable name keeps test caching working and stays under database name
// length limits.
func deterministicTestID(t testing.TB) string {
	t.Helper()

	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))
	require.NoError(t, err)

	return fmt.Sprintf("%08x", h.Sum32())
}
