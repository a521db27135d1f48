// SPDX-License-Identifier: Apache-2.0

package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/pgscope/pgscope/internal/testharness"
	"github.com/pgscope/pgscope/pkg/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectStatementSelectHasNoSideEffects(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)

	got, err := o.InspectStatement(context.Background(), "SELECT 1;")
	require.NoError(t, err)
	assert.True(t, got.Equal(oracle.InspectedStatement{}))
}

func TestInspectStatementSelectFromTableTakesAccessShareLock(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)

	got, err := o.InspectStatement(context.Background(), "SELECT * FROM customers;")
	require.NoError(t, err)

	assert.True(t, got.Equal(oracle.InspectedStatement{
		Locks: []oracle.TableLock{
			{Table: oracle.TableObject{Name: "customers"}, Lock: oracle.AccessShareLock},
		},
	}))
}

func TestInspectStatementDropTableRemovesItsObjects(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)

	got, err := o.InspectStatement(context.Background(), "DROP TABLE orders;")
	require.NoError(t, err)

	assert.Empty(t, got.AddedObjects)
	assert.Empty(t, got.Rewrites)
	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.TableObject{Name: "orders"}))
	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.IndexObject{Table: oracle.TableObject{Name: "orders"}, Name: "orders_pkey"}))
	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.IndexObject{Table: oracle.TableObject{Name: "orders"}, Name: "orders_price_idx"}))
	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.ColumnObject{Table: oracle.TableObject{Name: "orders"}, Name: "id", DataType: "integer"}))
	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.ColumnObject{Table: oracle.TableObject{Name: "orders"}, Name: "customer_id", DataType: "integer"}))
	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.ColumnObject{Table: oracle.TableObject{Name: "orders"}, Name: "price", DataType: "numeric"}))

	var sawOrdersLock bool
	for _, l := range got.Locks {
		if l.Table.Name == "orders" && l.Lock == oracle.AccessExclusiveLock {
			sawOrdersLock = true
		}
	}
	assert.True(t, sawOrdersLock)
}

func TestInspectStatementDropIndexRemovesOnlyTheIndex(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)

	got, err := o.InspectStatement(context.Background(), "DROP INDEX orders_price_idx;")
	require.NoError(t, err)

	assert.Equal(t, []oracle.DBObject{oracle.IndexObject{Table: oracle.TableObject{Name: "orders"}, Name: "orders_price_idx"}}, got.RemovedObjects)

	var sawOrdersLock bool
	for _, l := range got.Locks {
		if l.Table.Name == "orders" {
			sawOrdersLock = true
		}
	}
	assert.True(t, sawOrdersLock)
}

func TestInspectStatementDropColumnIsAccessExclusive(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)

	got, err := o.InspectStatement(context.Background(), "ALTER TABLE customers DROP COLUMN name;")
	require.NoError(t, err)

	assert.Equal(t, []oracle.DBObject{oracle.ColumnObject{Table: oracle.TableObject{Name: "customers"}, Name: "name", DataType: "text"}}, got.RemovedObjects)
	assert.True(t, got.Equal(oracle.InspectedStatement{
		RemovedObjects: got.RemovedObjects,
		Locks: []oracle.TableLock{
			{Table: oracle.TableObject{Name: "customers"}, Lock: oracle.AccessExclusiveLock},
		},
	}))
}

func TestInspectStatementColumnTypeChangeRewritesAndLocksReferencingTable(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)

	got, err := o.InspectStatement(context.Background(), "ALTER TABLE customers ALTER COLUMN id TYPE bigint;")
	require.NoError(t, err)

	assert.Contains(t, got.RemovedObjects, oracle.DBObject(oracle.ColumnObject{Table: oracle.TableObject{Name: "customers"}, Name: "id", DataType: "integer"}))
	assert.Contains(t, got.AddedObjects, oracle.DBObject(oracle.ColumnObject{Table: oracle.TableObject{Name: "customers"}, Name: "id", DataType: "bigint"}))
	assert.Contains(t, got.Rewrites, oracle.DBObject(oracle.TableObject{Name: "customers"}))

	var sawCustomers, sawOrders bool
	for _, l := range got.Locks {
		if l.Table.Name == "customers" && l.Lock == oracle.AccessExclusiveLock {
			sawCustomers = true
		}
		if l.Table.Name == "orders" && l.Lock == oracle.AccessExclusiveLock {
			sawOrders = true
		}
	}
	assert.True(t, sawCustomers)
	assert.True(t, sawOrders)
}

// TestInspectStatementMatchesBaselineUnderCompetingLock exercises the
// blocked-commit property: a transient external holder of a competing lock
// on a table InspectStatement needs must not change the discovered result,
// only delay it.
//
// InspectStatement's own discovery loop takes an ACCESS EXCLUSIVE lock on
// every pre-existing table on its very first iteration (oracle.go's own
// Locker, before the candidate statement ever runs), using a background
// context with no lock_timeout anywhere in Locker. So a holder that keeps
// its competing lock for the test function's entire lifetime (e.g. via a
// deferred Close) would deadlock against that very first iteration rather
// than exercising any interesting behavior. Instead, the holder releases its
// lock from a goroutine after a short, bounded delay, so InspectStatement's
// own lock acquisition is guaranteed to eventually proceed and converge to
// the same result an uncontended run would have produced.
func TestInspectStatementMatchesBaselineUnderCompetingLock(t *testing.T) {
	ctx := context.Background()
	dsn := testharness.NewDatabase(t)

	baseline, err := oracle.New(dsn).InspectStatement(ctx, "ALTER TABLE customers DROP COLUMN name;")
	require.NoError(t, err)

	dsn2 := testharness.NewDatabase(t)
	holder, err := oracle.NewLocker(ctx, dsn2)
	require.NoError(t, err)
	require.NoError(t, holder.LockTables(ctx, []oracle.TableObject{{Name: "customers"}}))

	go func() {
		time.Sleep(200 * time.Millisecond)
		holder.Close(ctx)
	}()

	contended, err := oracle.New(dsn2).InspectStatement(ctx, "ALTER TABLE customers DROP COLUMN name;")
	require.NoError(t, err)

	assert.True(t, baseline.Equal(contended))
}

func TestInspectStatementIsDeterministicAcrossRepeatedRuns(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	o := oracle.New(dsn)
	ctx := context.Background()

	first, err := o.InspectStatement(ctx, "SELECT * FROM orders;")
	require.NoError(t, err)
	second, err := o.InspectStatement(ctx, "SELECT * FROM orders;")
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
}
