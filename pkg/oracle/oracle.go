// SPDX-License-Identifier: Apache-2.0

// Package oracle implements a query oracle for Postgres: given an arbitrary
// SQL statement and a live connection to a database whose schema mirrors
// production, it determines the statement's side effects — the table locks
// it acquires, the schema objects it adds and removes, and the tables it
// physically rewrites — by executing the statement in a controlled
// environment and observing what happens.
//
// A static parser cannot answer these questions: whether, say,
// "ALTER COLUMN ... TYPE ..." rewrites a table or is metadata-only depends
// on the current column type, the server version, and binary-compatibility
// rules encoded in the server itself. Oracle sidesteps all of that by
// forcing a controlled lock conflict against the statement and reading back
// what the server reports it is waiting on.
package oracle

import (
	"context"
	"fmt"
)

// Oracle inspects SQL statements against a single target database,
// identified by a DSN. It holds no state between calls to InspectStatement.
type Oracle struct {
	dsn    string
	logger Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithLogger attaches a Logger that receives progress events during
// InspectStatement. Without this option, New installs a no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *Oracle) { o.logger = logger }
}

// New constructs an Oracle targeting the database at dsn.
func New(dsn string, opts ...Option) *Oracle {
	o := &Oracle{dsn: dsn, logger: NewNoopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InspectStatement executes stmt against the Oracle's database and returns
// a summary of its side effects.
//
// The algorithm: a dedicated Introspector snapshots the schema before and
// after the statement runs. In between, a discovery loop repeatedly (a)
// locks every pre-existing table not yet known to be needed with an
// ACCESS EXCLUSIVE lock via a fresh Locker, (b) drives stmt through a fresh
// Executor, and (c) if the Executor reports the statement blocked, reads
// back the exact locks it is holding or requesting from the Locker's
// session. The loop exits once the statement (and its commit) complete
// without blocking. This never needs to lock tables the statement itself
// creates, because such tables cannot appear in the pre-existing universe
// locked up front — a limitation spec.md documents and preserves rather
// than works around.
func (o *Oracle) InspectStatement(ctx context.Context, stmt string) (InspectedStatement, error) {
	introspector, err := NewIntrospector(ctx, o.dsn)
	if err != nil {
		return InspectedStatement{}, fmt.Errorf("creating introspector: %w", err)
	}
	defer introspector.Close(ctx)

	initialObjects, err := introspector.ListObjects(ctx)
	if err != nil {
		return InspectedStatement{}, fmt.Errorf("listing initial objects: %w", err)
	}
	initialFileNodes, err := introspector.ListObjectFileNodes(ctx)
	if err != nil {
		return InspectedStatement{}, fmt.Errorf("listing initial object file nodes: %w", err)
	}

	allTables := tablesIn(initialObjects)

	detectedLocks := make(map[TableLock]struct{})

	for {
		toLock := tablesNotIn(allTables, detectedLocks)

		locker, err := NewLocker(ctx, o.dsn)
		if err != nil {
			return InspectedStatement{}, fmt.Errorf("creating locker: %w", err)
		}

		if err := locker.LockTables(ctx, toLock); err != nil {
			locker.Close(ctx)
			return InspectedStatement{}, fmt.Errorf("locking tables: %w", err)
		}

		executor, err := NewExecutor(ctx, o.dsn)
		if err != nil {
			locker.Close(ctx)
			return InspectedStatement{}, fmt.Errorf("creating executor: %w", err)
		}
		connID := executor.ConnectionID()
		o.logger.Debugf("executor created with connection id %d", connID)

		blocked, err := executor.CheckStatementForLocks(ctx, stmt)
		if err != nil {
			executor.Close(ctx)
			locker.Close(ctx)
			return InspectedStatement{}, fmt.Errorf("checking statement for locks: %w", err)
		}

		if !blocked {
			o.logger.Debugf("statement executed successfully")
			executor.Close(ctx)
			locker.Close(ctx)
			break
		}

		newLocks, err := locker.ListConnectionLocks(ctx, connID)
		if err != nil {
			executor.Close(ctx)
			locker.Close(ctx)
			return InspectedStatement{}, fmt.Errorf("listing connection locks: %w", err)
		}

		before := len(detectedLocks)
		for _, l := range newLocks {
			detectedLocks[l] = struct{}{}
		}
		if len(detectedLocks) == before {
			executor.Close(ctx)
			locker.Close(ctx)
			return InspectedStatement{}, stuckErr("discovery loop observed no new locks while the statement was blocked")
		}
		o.logger.Debugf("detected %d new lock(s), %d total", len(detectedLocks)-before, len(detectedLocks))

		executor.AttemptTermination(ctx)

		// Drop the Executor before the Locker: closing the Executor first
		// releases the waiter, so the Locker's own close (which releases
		// the blockers) doesn't race a still-blocked waiter.
		executor.Close(ctx)
		locker.Close(ctx)
	}

	newObjects, err := introspector.ListObjects(ctx)
	if err != nil {
		return InspectedStatement{}, fmt.Errorf("listing new objects: %w", err)
	}
	newFileNodes, err := introspector.ListObjectFileNodes(ctx)
	if err != nil {
		return InspectedStatement{}, fmt.Errorf("listing new object file nodes: %w", err)
	}

	added, removed := diffObjects(initialObjects, newObjects)
	rewrites := rewrittenTables(initialFileNodes, newFileNodes)

	locks := make([]TableLock, 0, len(detectedLocks))
	for l := range detectedLocks {
		locks = append(locks, l)
	}

	return InspectedStatement{
		AddedObjects:   added,
		RemovedObjects: removed,
		Locks:          locks,
		Rewrites:       rewrites,
	}, nil
}

// tablesIn extracts the TableObject variants from a set of DBObjects.
func tablesIn(objects []DBObject) []TableObject {
	var tables []TableObject
	for _, obj := range objects {
		if t, ok := obj.(TableObject); ok {
			tables = append(tables, t)
		}
	}
	return tables
}

// tablesNotIn returns the tables in all that are not the .Table of any
// TableLock already recorded in locked.
func tablesNotIn(all []TableObject, locked map[TableLock]struct{}) []TableObject {
	lockedTables := make(map[TableObject]struct{}, len(locked))
	for l := range locked {
		lockedTables[l.Table] = struct{}{}
	}
	var remaining []TableObject
	for _, t := range all {
		if _, ok := lockedTables[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	return remaining
}

// diffObjects computes the objects added and removed between two snapshots
// taken on the same session.
func diffObjects(before, after []DBObject) (added, removed []DBObject) {
	beforeSet := make(map[DBObject]struct{}, len(before))
	for _, o := range before {
		beforeSet[o] = struct{}{}
	}
	afterSet := make(map[DBObject]struct{}, len(after))
	for _, o := range after {
		afterSet[o] = struct{}{}
	}

	for _, o := range after {
		if _, ok := beforeSet[o]; !ok {
			added = append(added, o)
		}
	}
	for _, o := range before {
		if _, ok := afterSet[o]; !ok {
			removed = append(removed, o)
		}
	}
	return added, removed
}

// rewrittenTables returns the tables present in both snapshots whose file
// node changed between them. Tables present in only one snapshot never
// appear here: they show up in the added or removed sets instead.
func rewrittenTables(before, after map[TableObject]FileNode) []DBObject {
	var rewrites []DBObject
	for table, newNode := range after {
		if oldNode, ok := before[table]; ok && oldNode != newNode {
			rewrites = append(rewrites, table)
		}
	}
	return rewrites
}
