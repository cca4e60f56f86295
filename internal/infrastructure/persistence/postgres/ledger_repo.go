package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements delivery.Store on the delivery_stats row.
type LedgerRepository struct {
	db     Querier
	pinger interface{ Ping(context.Context) error }
}

// NewLedgerRepository creates a repository on an open connection.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{db: conn, pinger: conn}
}

// newLedgerRepositoryWithQuerier is used by tests.
func newLedgerRepositoryWithQuerier(q Querier) *LedgerRepository {
	return &LedgerRepository{db: q}
}

// The whole read-modify-write happens inside one statement. The row lock
// taken by ON CONFLICT DO UPDATE serializes concurrent writers.
const recordAttemptSQL = `
INSERT INTO delivery_stats (
    id, last_delivery_attempt, last_delivery_success, last_delivery_reason,
    total_scheduled, total_delivered, total_failed
) VALUES (1, $1, $2, $3, 1, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    last_delivery_attempt = EXCLUDED.last_delivery_attempt,
    last_delivery_success = EXCLUDED.last_delivery_success,
    last_delivery_reason = EXCLUDED.last_delivery_reason,
    total_scheduled = delivery_stats.total_scheduled + 1,
    total_delivered = delivery_stats.total_delivered + EXCLUDED.total_delivered,
    total_failed = delivery_stats.total_failed + EXCLUDED.total_failed
RETURNING last_delivery_attempt, last_delivery_success, last_delivery_reason,
          total_scheduled, total_delivered, total_failed`

const loadStatsSQL = `
SELECT last_delivery_attempt, last_delivery_success, last_delivery_reason,
       total_scheduled, total_delivered, total_failed
FROM delivery_stats WHERE id = 1`

// Record folds one attempt into the ledger and returns the new snapshot.
func (r *LedgerRepository) Record(ctx context.Context, attempt delivery.Attempt) (delivery.Stats, error) {
	var delivered, failed int
	if attempt.Succeeded() {
		delivered = 1
	} else {
		failed = 1
	}

	row := r.db.QueryRow(ctx, recordAttemptSQL,
		attempt.Timestamp.UnixMilli(),
		attempt.Succeeded(),
		attempt.Reason,
		delivered,
		failed,
	)

	stats, err := scanStats(row.Scan)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", shared.ErrLedgerWrite, err)
		if IsSerializationFailure(err) || IsConnectionError(err) {
			return delivery.Stats{}, retry.Retryable(wrapped)
		}
		return delivery.Stats{}, wrapped
	}
	return stats, nil
}

// Load returns the current snapshot, or zero Stats before the first write.
func (r *LedgerRepository) Load(ctx context.Context) (delivery.Stats, error) {
	stats, err := scanStats(r.db.QueryRow(ctx, loadStatsSQL).Scan)
	if IsNoRows(err) {
		return delivery.Stats{}, nil
	}
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("%w: %w", shared.ErrLedgerRead, err)
	}
	return stats, nil
}

// Ping checks the underlying connection.
func (r *LedgerRepository) Ping(ctx context.Context) error {
	if r.pinger == nil {
		return nil
	}
	return r.pinger.Ping(ctx)
}

func scanStats(scan func(dest ...any) error) (delivery.Stats, error) {
	var (
		lastAttempt int64
		succeeded   bool
		reason      pgtype.Text
		scheduled   int64
		delivered   int64
		failed      int64
	)
	if err := scan(&lastAttempt, &succeeded, &reason, &scheduled, &delivered, &failed); err != nil {
		return delivery.Stats{}, err
	}

	stats := delivery.Stats{
		LastAttemptAt:        time.UnixMilli(lastAttempt).UTC(),
		LastAttemptSucceeded: succeeded,
		TotalScheduled:       scheduled,
		TotalDelivered:       delivered,
		TotalFailed:          failed,
	}
	if reason.Valid {
		s := reason.String
		stats.LastFailureReason = &s
	}
	return stats, nil
}
