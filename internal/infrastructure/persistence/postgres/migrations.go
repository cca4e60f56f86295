package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Migration is one forward/backward schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_delivery_stats",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
	}
}

const migrationsTable = "schema_migrations"

// Migrate applies every migration not yet recorded in schema_migrations,
// each in its own transaction.
func Migrate(ctx context.Context, conn *Connection) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %v", ErrMigrationFailed, err)
	}

	for _, mig := range Migrations() {
		err := conn.WithTx(ctx, func(tx pgx.Tx) error {
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM `+migrationsTable+` WHERE version = $1)`, mig.Version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}

			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO `+migrationsTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE DELIVERY STATS
// ══════════════════════════════════════════════════════════════════════════════

// The ledger is a single row pinned to id = 1. Column names are a stable
// contract shared with the on-device SQLite store.
const migration001Up = `
CREATE TABLE IF NOT EXISTS delivery_stats (
    id SMALLINT PRIMARY KEY DEFAULT 1,
    last_delivery_attempt BIGINT NOT NULL,
    last_delivery_success BOOLEAN NOT NULL,
    last_delivery_reason TEXT,
    total_scheduled INTEGER NOT NULL DEFAULT 0,
    total_delivered INTEGER NOT NULL DEFAULT 0,
    total_failed INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT single_row CHECK (id = 1),
    CONSTRAINT counters_balanced CHECK (total_scheduled = total_delivered + total_failed),
    CONSTRAINT counters_positive CHECK (total_delivered >= 0 AND total_failed >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS delivery_stats;
`
