// Package sqlite stores the delivery reliability ledger in an on-device
// SQLite file using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/pkg/retry"
)

// Open opens (or creates) the database file with WAL journaling and a busy
// timeout. A single connection keeps writers from racing for the file lock.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// LedgerStore implements delivery.Store.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore creates the delivery_stats table if needed.
func NewLedgerStore(db *sql.DB) (*LedgerStore, error) {
	s := &LedgerStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

func (s *LedgerStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS delivery_stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_delivery_attempt INTEGER NOT NULL,
		last_delivery_success INTEGER NOT NULL,
		last_delivery_reason TEXT,
		total_scheduled INTEGER NOT NULL DEFAULT 0,
		total_delivered INTEGER NOT NULL DEFAULT 0,
		total_failed INTEGER NOT NULL DEFAULT 0,
		CHECK (total_scheduled = total_delivered + total_failed)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const recordSQL = `
INSERT INTO delivery_stats (
	id, last_delivery_attempt, last_delivery_success, last_delivery_reason,
	total_scheduled, total_delivered, total_failed
) VALUES (1, ?, ?, ?, 1, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	last_delivery_attempt = excluded.last_delivery_attempt,
	last_delivery_success = excluded.last_delivery_success,
	last_delivery_reason = excluded.last_delivery_reason,
	total_scheduled = delivery_stats.total_scheduled + 1,
	total_delivered = delivery_stats.total_delivered + excluded.total_delivered,
	total_failed = delivery_stats.total_failed + excluded.total_failed
RETURNING last_delivery_attempt, last_delivery_success, last_delivery_reason,
	total_scheduled, total_delivered, total_failed`

const loadSQL = `
SELECT last_delivery_attempt, last_delivery_success, last_delivery_reason,
	total_scheduled, total_delivered, total_failed
FROM delivery_stats WHERE id = 1`

// Record folds one attempt into the single row with one UPSERT statement.
func (s *LedgerStore) Record(ctx context.Context, attempt delivery.Attempt) (delivery.Stats, error) {
	var delivered, failed int64
	if attempt.Succeeded() {
		delivered = 1
	} else {
		failed = 1
	}

	var reason sql.NullString
	if attempt.Reason != nil {
		reason = sql.NullString{String: *attempt.Reason, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, recordSQL,
		attempt.Timestamp.UnixMilli(), attempt.Succeeded(), reason, delivered, failed)
	stats, err := scanStats(row)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", shared.ErrLedgerWrite, err)
		if isBusy(err) {
			return delivery.Stats{}, retry.Retryable(wrapped)
		}
		return delivery.Stats{}, wrapped
	}
	return stats, nil
}

// Load returns the current snapshot, or zero Stats before the first write.
func (s *LedgerStore) Load(ctx context.Context) (delivery.Stats, error) {
	stats, err := scanStats(s.db.QueryRowContext(ctx, loadSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return delivery.Stats{}, nil
	}
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("%w: %w", shared.ErrLedgerRead, err)
	}
	return stats, nil
}

// Ping checks the database handle.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanStats(row *sql.Row) (delivery.Stats, error) {
	var (
		lastAttempt int64
		succeeded   bool
		reason      sql.NullString
		stats       delivery.Stats
	)
	err := row.Scan(&lastAttempt, &succeeded, &reason,
		&stats.TotalScheduled, &stats.TotalDelivered, &stats.TotalFailed)
	if err != nil {
		return delivery.Stats{}, err
	}

	stats.LastAttemptAt = time.UnixMilli(lastAttempt).UTC()
	stats.LastAttemptSucceeded = succeeded
	if reason.Valid {
		r := reason.String
		stats.LastFailureReason = &r
	}
	return stats, nil
}

// isBusy reports SQLITE_BUSY / SQLITE_LOCKED without importing the driver's
// internal error type.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}
