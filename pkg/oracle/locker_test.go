// SPDX-License-Identifier: Apache-2.0

package oracle_test

import (
	"context"
	"testing"

	"github.com/pgscope/pgscope/internal/testharness"
	"github.com/pgscope/pgscope/pkg/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerLockTablesAndListConnectionLocks(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	ctx := context.Background()

	locker, err := oracle.NewLocker(ctx, dsn)
	require.NoError(t, err)
	defer locker.Close(ctx)

	err = locker.LockTables(ctx, []oracle.TableObject{
		{Name: "customers"},
		{Name: "orders"},
	})
	require.NoError(t, err)

	locks, err := locker.ListConnectionLocks(ctx, locker.ConnectionID())
	require.NoError(t, err)

	var sawCustomers, sawOrders bool
	for _, l := range locks {
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

func TestLockerLockTablesDeterministicOrderDoesNotAffectResult(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	ctx := context.Background()

	locker, err := oracle.NewLocker(ctx, dsn)
	require.NoError(t, err)
	defer locker.Close(ctx)

	err = locker.LockTables(ctx, []oracle.TableObject{
		{Name: "orders"},
		{Name: "customers"},
	})
	assert.NoError(t, err)
}

func TestLockerLockTablesFailsOnMissingTable(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	ctx := context.Background()

	locker, err := oracle.NewLocker(ctx, dsn)
	require.NoError(t, err)
	defer locker.Close(ctx)

	err = locker.LockTables(ctx, []oracle.TableObject{{Name: "does_not_exist"}})
	require.Error(t, err)

	var oerr *oracle.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, oracle.KindLockAcquire, oerr.Kind)
}
