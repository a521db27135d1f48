// SPDX-License-Identifier: Apache-2.0

// Package connretry retries the CLI's initial connectivity check against a
// target Postgres server using an exponential backoff, so that pgscope
// tolerates a database that is still coming up (for example, immediately
// after a container start) without failing the very first command.
package connretry

import (
	"context"
	"strings"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/jackc/pgx/v5"
)

const (
	maxBackoffDuration = 30 * time.Second
	backoffInterval    = 250 * time.Millisecond
)

// Ping opens a connection to dsn and pings it, retrying with exponential
// backoff as long as the failure looks like the server is not yet accepting
// connections. Any other failure (bad DSN, auth failure, wrong database)
// returns immediately without retrying. It gives up once ctx is done.
func Ping(ctx context.Context, dsn string) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(ctx)
			if err == nil {
				return nil
			}
		}

		if !isRetryable(err) {
			return err
		}

		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}
}

// isRetryable reports whether err looks like "nothing is listening yet" or
// "the server is still starting up", as opposed to a configuration mistake
// that no amount of waiting will fix.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{
		"connection refused",
		"the database system is starting up",
		"i/o timeout",
		"no such host",
		"EOF",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
