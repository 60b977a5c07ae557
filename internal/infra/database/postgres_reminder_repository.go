package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // For pq.Array and error codes

	"call_reminder/internal/domain/reminder"
)

// foreignKeyViolation is the PostgreSQL SQLSTATE for a failed FK check.
const foreignKeyViolation = "23503"

// PostgresReminderRepository implements reminder.Store.
type PostgresReminderRepository struct {
	db *sql.DB
}

func NewPostgresReminderRepository(db *sql.DB) *PostgresReminderRepository {
	return &PostgresReminderRepository{db: db}
}

const reminderColumns = `id, message, due_at, repeat, source, created_at, updated_at`

func (r *PostgresReminderRepository) Add(ctx context.Context, rem *reminder.Reminder) error {
	query := `INSERT INTO reminders (message, due_at, repeat, source)
               VALUES ($1, $2, $3, $4)
               RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, rem.Message, rem.DueAt, string(rem.Repeat), string(rem.Source)).
		Scan(&rem.ID, &rem.CreatedAt, &rem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating reminder: %w", err)
	}
	return nil
}

func (r *PostgresReminderRepository) Update(ctx context.Context, rem *reminder.Reminder) error {
	query := `UPDATE reminders
               SET message = $1, due_at = $2, repeat = $3, updated_at = NOW()
               WHERE id = $4
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query, rem.Message, rem.DueAt, string(rem.Repeat), rem.ID).Scan(&rem.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return reminder.ErrReminderNotFound
		}
		return fmt.Errorf("error updating reminder %d: %w", rem.ID, err)
	}
	return nil
}

func (r *PostgresReminderRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return reminder.ErrReminderNotFound
	}
	return nil
}

func (r *PostgresReminderRepository) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("error deleting reminders: %w", err)
	}
	return nil
}

func (r *PostgresReminderRepository) GetByID(ctx context.Context, id int64) (*reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`
	rem, err := scanReminder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, reminder.ErrReminderNotFound
		}
		return nil, fmt.Errorf("error getting reminder by ID: %w", err)
	}
	return rem, nil
}

func (r *PostgresReminderRepository) GetAll(ctx context.Context) ([]*reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders ORDER BY due_at, id`
	return r.list(ctx, "all reminders", query)
}

func (r *PostgresReminderRepository) GetPastDue(ctx context.Context, now time.Time) ([]*reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE due_at <= $1 ORDER BY due_at, id`
	return r.list(ctx, "past-due reminders", query, now)
}

func (r *PostgresReminderRepository) list(ctx context.Context, what, query string, args ...any) ([]*reminder.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", what, err)
	}
	defer rows.Close()

	reminders := make([]*reminder.Reminder, 0)
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", what, err)
		}
		reminders = append(reminders, rem)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return reminders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*reminder.Reminder, error) {
	rem := &reminder.Reminder{}
	var repeat, source string
	if err := row.Scan(&rem.ID, &rem.Message, &rem.DueAt, &repeat, &source, &rem.CreatedAt, &rem.UpdatedAt); err != nil {
		return nil, err
	}
	rem.Repeat = reminder.RepeatPolicy(repeat)
	rem.Source = reminder.Source(source)
	return rem, nil
}

func (r *PostgresReminderRepository) GetEventIDFor(ctx context.Context, reminderID int64) (string, bool, error) {
	var eventID string
	err := r.db.QueryRowContext(ctx, `SELECT event_id FROM calendar_event_mappings WHERE reminder_id = $1`, reminderID).Scan(&eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("error getting event mapping: %w", err)
	}
	return eventID, true, nil
}

func (r *PostgresReminderRepository) SetEventIDFor(ctx context.Context, reminderID int64, eventID string) error {
	query := `INSERT INTO calendar_event_mappings (reminder_id, event_id)
               VALUES ($1, $2)
               ON CONFLICT (reminder_id) DO UPDATE SET event_id = EXCLUDED.event_id`

	if _, err := r.db.ExecContext(ctx, query, reminderID, eventID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return reminder.ErrReminderNotFound
		}
		return fmt.Errorf("error storing event mapping: %w", err)
	}
	return nil
}

func (r *PostgresReminderRepository) RemoveEventIDFor(ctx context.Context, reminderID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM calendar_event_mappings WHERE reminder_id = $1`, reminderID); err != nil {
		return fmt.Errorf("error removing event mapping: %w", err)
	}
	return nil
}

func (r *PostgresReminderRepository) IsEventMapped(ctx context.Context, eventID string) (bool, error) {
	var mapped bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM calendar_event_mappings WHERE event_id = $1)`, eventID).Scan(&mapped)
	if err != nil {
		return false, fmt.Errorf("error checking event mapping: %w", err)
	}
	return mapped, nil
}

func (r *PostgresReminderRepository) IsImported(ctx context.Context, eventID string, begin time.Time) (bool, error) {
	var imported bool
	query := `SELECT EXISTS (SELECT 1 FROM imported_calendar_instances WHERE event_id = $1 AND begin_at = $2)`
	if err := r.db.QueryRowContext(ctx, query, eventID, reminder.TruncateMillis(begin)).Scan(&imported); err != nil {
		return false, fmt.Errorf("error checking import ledger: %w", err)
	}
	return imported, nil
}

func (r *PostgresReminderRepository) RecordImported(ctx context.Context, eventID string, begin time.Time) error {
	query := `INSERT INTO imported_calendar_instances (event_id, begin_at)
               VALUES ($1, $2)
               ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, eventID, reminder.TruncateMillis(begin)); err != nil {
		return fmt.Errorf("error recording imported instance: %w", err)
	}
	return nil
}

func (r *PostgresReminderRepository) PruneImported(ctx context.Context, beganBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM imported_calendar_instances WHERE begin_at < $1`, beganBefore)
	if err != nil {
		return 0, fmt.Errorf("error pruning import ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n, nil
}
