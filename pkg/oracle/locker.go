// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// Locker owns a session with one open transaction, used to acquire the
// strongest table lock on a chosen set of tables and to enumerate the
// locks held by another session. The transaction remains open for the
// Locker's lifetime; closing it releases whatever locks it acquired.
type Locker struct {
	conn               *pgx.Conn
	connID             ConnectionID
	includePartitioned bool
}

// NewLocker opens a session to dsn, verifies liveness, and begins a
// transaction that stays open until Close is called.
func NewLocker(ctx context.Context, dsn string) (*Locker, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, wrapErr(KindConnect, "creating locker connection", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, wrapErr(KindConnect, "pinging locker connection", err)
	}

	includePartitioned, err := serverSupportsPartitionedTables(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}

	var pid int32
	if err := conn.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&pid); err != nil {
		conn.Close(ctx)
		return nil, wrapErr(KindConnect, "retrieving locker connection ID", err)
	}

	if _, err := conn.Exec(ctx, "BEGIN;"); err != nil {
		conn.Close(ctx)
		return nil, wrapErr(KindConnect, "starting locker transaction", err)
	}
	return &Locker{conn: conn, connID: ConnectionID(pid), includePartitioned: includePartitioned}, nil
}

// ConnectionID returns the backend connection ID of the Locker's session.
func (l *Locker) ConnectionID() ConnectionID { return l.connID }

// Close ends the Locker's session, aborting its transaction and releasing
// any locks it holds. No explicit ROLLBACK is issued; closing the
// connection is sufficient.
func (l *Locker) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}

// LockTables acquires an ACCESS EXCLUSIVE lock on each of the given tables,
// within the Locker's open transaction. Tables are locked in a
// deterministic (name-sorted) order so that repeated calls are
// reproducible; the order itself has no bearing on correctness since
// ACCESS EXCLUSIVE conflicts with every other mode regardless of
// acquisition order.
//
// If locking any one table fails, the call returns immediately with that
// error; the transaction remains open with whatever locks were acquired
// before the failure. The caller is expected to discard the Locker in
// that case.
func (l *Locker) LockTables(ctx context.Context, tables []TableObject) error {
	sorted := make([]TableObject, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, table := range sorted {
		lockStmt := fmt.Sprintf("LOCK TABLE %s IN ACCESS EXCLUSIVE MODE;", quoteIdentifier(table.Name))
		if _, err := l.conn.Exec(ctx, lockStmt); err != nil {
			return wrapErr(KindLockAcquire, fmt.Sprintf("locking table %q", table.Name), err)
		}
	}
	return nil
}

// ListConnectionLocks returns the table locks held (or requested) by the
// backend identified by connID, restricted to ordinary and partitioned
// tables in the current schema and current database.
func (l *Locker) ListConnectionLocks(ctx context.Context, connID ConnectionID) ([]TableLock, error) {
	relkinds := "'r'"
	if l.includePartitioned {
		relkinds = "'r', 'p'"
	}
	rows, err := l.conn.Query(ctx, fmt.Sprintf(`
		SELECT c.relname, l.mode
		FROM pg_locks l
		JOIN pg_class c ON l.relation = c.oid
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE l.pid = $1
		  AND n.nspname = current_schema()
		  AND c.relkind IN (%s)
		  AND l.locktype = 'relation'
		  AND l.mode IS NOT NULL
		  AND l.database = (SELECT oid FROM pg_database WHERE datname = current_database())`, relkinds),
		int32(connID))
	if err != nil {
		return nil, wrapErr(KindIntrospection, fmt.Sprintf("listing connection locks for backend %d", connID), err)
	}
	defer rows.Close()

	var locks []TableLock
	for rows.Next() {
		var table, mode string
		if err := rows.Scan(&table, &mode); err != nil {
			return nil, wrapErr(KindIntrospection, "decoding lock row", err)
		}
		locks = append(locks, TableLock{Table: TableObject{Name: table}, Lock: ParseLock(mode)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(KindIntrospection, fmt.Sprintf("listing connection locks for backend %d", connID), err)
	}
	return locks, nil
}

// quoteIdentifier double-quotes a Postgres identifier so it survives
// unusual characters, escaping any embedded double quotes.
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
