package database

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSnoozeRepository implements reminder.SnoozeRepository.
type PostgresSnoozeRepository struct {
	db *sql.DB
}

func NewPostgresSnoozeRepository(db *sql.DB) *PostgresSnoozeRepository {
	return &PostgresSnoozeRepository{db: db}
}

func (r *PostgresSnoozeRepository) Remaining(ctx context.Context, reminderID int64) (int, bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT remaining FROM snooze_state WHERE reminder_id = $1`, reminderID).Scan(&n)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("error reading snooze budget: %w", err)
	}
	return n, true, nil
}

func (r *PostgresSnoozeRepository) SetRemaining(ctx context.Context, reminderID int64, n int) error {
	if n < 0 {
		n = 0
	}
	query := `INSERT INTO snooze_state (reminder_id, remaining)
               VALUES ($1, $2)
               ON CONFLICT (reminder_id) DO UPDATE SET remaining = EXCLUDED.remaining`
	if _, err := r.db.ExecContext(ctx, query, reminderID, n); err != nil {
		return fmt.Errorf("error storing snooze budget: %w", err)
	}
	return nil
}

func (r *PostgresSnoozeRepository) Clear(ctx context.Context, reminderID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snooze_state WHERE reminder_id = $1`, reminderID); err != nil {
		return fmt.Errorf("error clearing snooze budget: %w", err)
	}
	return nil
}
