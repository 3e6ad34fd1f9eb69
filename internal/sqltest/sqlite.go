//go:build integration_test

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sqltest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB opens a fresh SQLite file in the test's temporary directory.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(
		t.TempDir(), "consolidator_"+deterministicTestID(t)+".sqlite",
	)

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=rwc&cache=shared")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		require.NoError(t, err, "ping sqlite database")
	}

	// The temporary directory, and the file in it, are removed by the
	// testing package.
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})

	return db
}
