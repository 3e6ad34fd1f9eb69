//go:build integration_test

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	pgOnce     sync.Once
	pgAdminDSN string
	pgErr      error
)

// postgresAdminDSN starts the shared Postgres container on first use and
// returns its admin DSN.
func postgresAdminDSN(t testing.TB) string {
	t.Helper()

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 2*time.Minute,
		)
		defer cancel()

		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("consolidator"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			pgErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		pgAdminDSN, pgErr = container.ConnectionString(
			ctx, "sslmode=disable",
		)
	})
	require.NoError(t, pgErr)

	return pgAdminDSN
}

// NewPostgresDB creates a database named after the test inside the shared
// container and drops it when the test ends.
func NewPostgresDB(t testing.TB) *sql.DB {
	t.Helper()

	adminDSN := postgresAdminDSN(t)
	name := "consolidator_test_" + deterministicTestID(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	admin, err := sql.Open("pgx", adminDSN)
	require.NoError(t, err)
	defer admin.Close()

	require.NoError(t, admin.PingContext(ctx))

	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err, "create test database")

	testDSN, err := withDBName(adminDSN, name)
	require.NoError(t, err)

	db, err := sql.Open("pgx", testDSN)
	require.NoError(t, err)

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)

	t.Cleanup(func() {
		_ = db.Close()

		ctx, cancel := context.WithTimeout(
			context.Background(), 30*time.Second,
		)
		defer cancel()

		admin, err := sql.Open("pgx", adminDSN)
		if err != nil {
			return
		}
		defer admin.Close()

		_, _ = admin.ExecContext(ctx,
			"DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
	})

	return db
}

// withDBName replaces the database of a postgres:// DSN.
func withDBName(dsn, dbName string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	u.Path = "/" + dbName

	return u.String(), nil
}
