package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// TransactionWithRetry runs fn in a transaction, retrying with exponential
// backoff while SQLite reports the database as busy or locked.
func (db *DB) TransactionWithRetry(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func(*sql.Tx) error) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	if baseBackoff <= 0 {
		baseBackoff = defaultRetryBackoff
	}

	attempts, err := retryBusy(ctx, maxAttempts, baseBackoff, func() error {
		return db.Transaction(ctx, fn)
	})
	if attempts > 1 {
		db.logger.Debug().Int("attempts", attempts).Err(err).Msg("transaction retried on busy database")
	}
	return err
}

// retryBusy calls fn until it succeeds, fails with a non-busy error, or
// maxAttempts is reached. It returns the number of attempts made.
func retryBusy(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func() error) (int, error) {
	backoff := baseBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn()
		if err == nil {
			return attempt, nil
		}
		if !isBusyError(err) || attempt >= maxAttempts {
			return attempt, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}
