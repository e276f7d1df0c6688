//go:build integration

// Package dbtest gives integration tests an isolated, migrated PostgreSQL
// database. One container is shared by the whole test binary and every
// NewPool call gets its own database inside it.
package dbtest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	testpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dejobratic/fetchstate/internal/database"
)

var (
	startOnce sync.Once
	adminURL  string
	startErr  error
	databases atomic.Int64
)

// The container is removed by the testcontainers reaper when the binary exits.
func start() (string, error) {
	startOnce.Do(func() {
		ctx := context.Background()
		container, err := testpostgres.Run(ctx,
			"postgres:16-alpine",
			testpostgres.WithDatabase("postgres"),
			testpostgres.WithUsername("test"),
			testpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		)
		if err != nil {
			startErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		adminURL, startErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	return adminURL, startErr
}

// NewPool returns a pool on a fresh database with all migrations applied.
// The database is dropped when the test ends.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	admin, err := start()
	if err != nil {
		t.Fatal(err)
	}

	name := fmt.Sprintf("test_%d", databases.Add(1))
	exec(t, admin, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())

	u, err := url.Parse(admin)
	if err != nil {
		t.Fatalf("parse connection string: %v", err)
	}
	u.Path = "/" + name
	dsn := u.String()

	if _, err := database.Migrate(dsn, ""); err != nil {
		t.Fatalf("migrate %s: %v", name, err)
	}

	pool, err := database.NewPool(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("connect to %s: %v", name, err)
	}
	t.Cleanup(func() {
		pool.Close()
		exec(t, admin, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)")
	})

	return pool
}

func exec(t *testing.T, dsn, sql string) {
	t.Helper()
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, sql); err != nil {
		t.Fatalf("%s: %v", sql, err)
	}
}
