// SPDX-License-Identifier: Apache-2.0

// Package testharness boots a single shared Postgres container for a test
// package and hands out isolated, pre-populated databases to individual
// tests, the way pgscope's integration suite needs: each test gets its own
// database carrying the fixed customers/orders schema described by the
// oracle's scenario tests, so that tests can run in parallel without
// interfering with one another's locks.
package testharness

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// defaultPostgresVersion is used when POSTGRES_VERSION is unset. It is newer
// than PG10, so pgscope's server-version gate includes partitioned tables
// (pg_class.relkind = 'p') in its relkind filters on this default.
const defaultPostgresVersion = "14.9"

var sharedConnStr string

// SharedTestMain starts one Postgres container for all tests in a package
// and tears it down after they run. Call it from the package's TestMain.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		log.Printf("starting shared postgres container: %v", err)
		os.Exit(1)
	}

	sharedConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("retrieving container connection string: %v", err)
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("terminating shared postgres container: %v", err)
	}

	os.Exit(exitCode)
}

// NewDatabase creates a fresh, randomly-named database on the shared
// container, bootstraps it with the standard customers/orders schema, and
// returns a DSN pointing at it. The database is dropped when the test
// completes.
func NewDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, sharedConnStr)
	if err != nil {
		t.Fatalf("connecting to shared container: %v", err)
	}
	defer admin.Close(ctx)

	dbName := "pgscope_test_" + uuid.New().String()[:8]
	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdentifier(dbName))); err != nil {
		t.Fatalf("creating test database %s: %v", dbName, err)
	}

	t.Cleanup(func() {
		cleanupCtx := context.Background()
		conn, err := pgx.Connect(cleanupCtx, sharedConnStr)
		if err != nil {
			return
		}
		defer conn.Close(cleanupCtx)
		_, _ = conn.Exec(cleanupCtx, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", quoteIdentifier(dbName)))
	})

	dsn := withDatabase(t, sharedConnStr, dbName)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to new test database %s: %v", dbName, err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, customerOrdersSchema); err != nil {
		t.Fatalf("bootstrapping schema in %s: %v", dbName, err)
	}

	return dsn
}

// customerOrdersSchema is the fixed schema used throughout the oracle's
// scenario tests: a customers table referenced by an orders table, with a
// primary key on each and an extra index on orders.price.
const customerOrdersSchema = `
CREATE TABLE customers (
	id   int PRIMARY KEY,
	name text
);

CREATE TABLE orders (
	id          int PRIMARY KEY,
	customer_id int REFERENCES customers(id),
	price       numeric
);

CREATE INDEX orders_price_idx ON orders(price);
`

func withDatabase(t *testing.T, connStr, dbName string) string {
	t.Helper()
	u, err := url.Parse(connStr)
	if err != nil {
		t.Fatalf("parsing container connection string: %v", err)
	}
	u.Path = "/" + dbName
	return u.String()
}

func quoteIdentifier(name string) string {
	escaped := ""
	for _, r := range name {
		if r == '"' {
			escaped += `""`
		} else {
			escaped += string(r)
		}
	}
	return `"` + escaped + `"`
}
