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

func TestIntrospectorListObjects(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	ctx := context.Background()

	in, err := oracle.NewIntrospector(ctx, dsn)
	require.NoError(t, err)
	defer in.Close(ctx)

	objects, err := in.ListObjects(ctx)
	require.NoError(t, err)

	assert.Contains(t, objects, oracle.TableObject{Name: "customers"})
	assert.Contains(t, objects, oracle.TableObject{Name: "orders"})
	assert.Contains(t, objects, oracle.ColumnObject{
		Table: oracle.TableObject{Name: "orders"}, Name: "price", DataType: "numeric",
	})
	assert.Contains(t, objects, oracle.IndexObject{
		Table: oracle.TableObject{Name: "orders"}, Name: "orders_price_idx",
	})
}

func TestIntrospectorListObjectFileNodes(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	ctx := context.Background()

	in, err := oracle.NewIntrospector(ctx, dsn)
	require.NoError(t, err)
	defer in.Close(ctx)

	nodes, err := in.ListObjectFileNodes(ctx)
	require.NoError(t, err)

	node, ok := nodes[oracle.TableObject{Name: "orders"}]
	require.True(t, ok)
	assert.NotZero(t, node)
}

func TestIntrospectorFileNodeChangesOnRewrite(t *testing.T) {
	dsn := testharness.NewDatabase(t)
	ctx := context.Background()

	in, err := oracle.NewIntrospector(ctx, dsn)
	require.NoError(t, err)
	defer in.Close(ctx)

	before, err := in.ListObjectFileNodes(ctx)
	require.NoError(t, err)

	exec, err := oracle.NewExecutor(ctx, dsn)
	require.NoError(t, err)
	_, err = exec.CheckStatementForLocks(ctx, "ALTER TABLE customers ALTER COLUMN id TYPE bigint")
	require.NoError(t, err)
	require.NoError(t, exec.Close(ctx))

	after, err := in.ListObjectFileNodes(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, before[oracle.TableObject{Name: "customers"}], after[oracle.TableObject{Name: "customers"}])
}
