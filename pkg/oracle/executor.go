// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const lockWaitNoticeSubstring = "still waiting for"

// setupStatements enables server-side lock-wait diagnostics for the
// Executor's session. Together these three settings cause the server to
// emit an asynchronous notice of the form "still waiting for ... lock on
// ..." as soon as the session has been blocked on a lock for longer than
// 1ms.
const setupStatements = `
BEGIN;
SET log_lock_waits = true;
SET deadlock_timeout = '1ms';
SET client_min_messages = 'log';
`

// Executor owns a session, an open transaction, and a channel fed by that
// session's asynchronous notice stream. It drives a candidate statement
// and races its completion against the arrival of a lock-wait notice, so
// that a blocked statement can be detected without waiting for it to
// actually finish.
type Executor struct {
	conn     *pgx.Conn
	connID   ConnectionID
	noticeCh chan struct{}
}

// NewExecutor opens a session to dsn, retrieves its backend connection ID,
// and runs the setup batch that enables lock-wait notices. Because pgx
// delivers NoticeResponse messages to OnNotice synchronously from within
// whatever call is currently reading the connection, the handler is wired
// up before any query is issued so that a notice arriving mid-statement is
// never missed.
func NewExecutor(ctx context.Context, dsn string) (*Executor, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, wrapErr(KindConnect, "parsing executor dsn", err)
	}

	noticeCh := make(chan struct{}, 1)
	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		if strings.Contains(n.Message, lockWaitNoticeSubstring) {
			select {
			case noticeCh <- struct{}{}:
			default:
			}
		}
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, wrapErr(KindConnect, "creating executor connection", err)
	}

	var pid int32
	if err := conn.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&pid); err != nil {
		conn.Close(ctx)
		return nil, wrapErr(classifyConnErr(conn, err), "retrieving executor connection ID", err)
	}

	if _, err := conn.Exec(ctx, setupStatements); err != nil {
		conn.Close(ctx)
		return nil, wrapErr(classifyConnErr(conn, err), "executing executor setup statements", err)
	}

	return &Executor{conn: conn, connID: ConnectionID(pid), noticeCh: noticeCh}, nil
}

// Close ends the Executor's session. No explicit ROLLBACK is issued: this
// is the sole mechanism that releases whatever the Executor's statement was
// holding or waiting on.
func (e *Executor) Close(ctx context.Context) error {
	return e.conn.Close(ctx)
}

// ConnectionID returns the backend connection ID of the Executor's session.
func (e *Executor) ConnectionID() ConnectionID { return e.connID }

// AttemptTermination makes a best-effort attempt to cancel the in-flight
// query on the server. Errors are swallowed: this is a convenience, not a
// correctness requirement, and exists mainly to avoid exhausting connection
// slots on older servers.
func (e *Executor) AttemptTermination(ctx context.Context) {
	_ = e.conn.PgConn().CancelRequest(ctx)
}

// CheckStatementForLocks drives stmt, then an explicit COMMIT, through
// detectIfStatementBlocks. It returns true on the first of the two that
// blocks, and false only if both complete without blocking. The COMMIT
// step matters because some schema operations acquire additional locks
// only at commit time.
func (e *Executor) CheckStatementForLocks(ctx context.Context, stmt string) (bool, error) {
	for _, toExecute := range [2]string{stmt, "COMMIT;"} {
		blocked, err := e.detectIfStatementBlocks(ctx, toExecute)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}

// detectIfStatementBlocks runs stmt and races its completion against the
// arrival of a lock-wait notice. If a notice arrives first, it returns
// true immediately, leaving the statement in its blocked state (the
// goroutine executing it remains running, pinned on the still-open
// connection, until the Executor is closed). If the statement completes
// first, it returns false. A connection failure while either is pending
// surfaces as a session_closed error.
func (e *Executor) detectIfStatementBlocks(ctx context.Context, stmt string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		_, err := e.conn.Exec(ctx, stmt)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return false, wrapErr(classifyConnErr(e.conn, err), fmt.Sprintf("executing statement %q", stmt), err)
		}
		return false, nil
	case <-e.noticeCh:
		return true, nil
	}
}

// classifyConnErr distinguishes a connection-level failure (the session
// itself closed or died) from an ordinary statement error (syntax error,
// permission denied, and the like).
func classifyConnErr(conn *pgx.Conn, err error) Kind {
	if conn.IsClosed() {
		return KindSessionClosed
	}
	return KindExecute
}
