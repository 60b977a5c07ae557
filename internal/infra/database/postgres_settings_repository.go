package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/domain/settings"
)

// PostgresSettingsRepository implements settings.Store as key/value rows.
// Keys missing from the table take their value from the defaults.
type PostgresSettingsRepository struct {
	db       *sql.DB
	defaults settings.Settings
	log      *logrus.Entry
}

func NewPostgresSettingsRepository(db *sql.DB, defaults settings.Settings, log *logrus.Entry) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db, defaults: defaults.Normalize(), log: log.WithField("component", "settings")}
}

func (r *PostgresSettingsRepository) Current(ctx context.Context) (settings.Settings, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("error reading settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return settings.Settings{}, fmt.Errorf("error scanning setting: %w", err)
		}
		values[k] = v
	}
	if err = rows.Err(); err != nil {
		return settings.Settings{}, fmt.Errorf("error iterating settings: %w", err)
	}

	s, errs := settings.FromValues(r.defaults, values)
	for _, e := range errs {
		r.log.WithError(e).Warn("Ignoring stored setting")
	}
	return s, nil
}

func (r *PostgresSettingsRepository) Save(ctx context.Context, s settings.Settings) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting settings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT INTO settings (key, value)
               VALUES ($1, $2)
               ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	for key, value := range s.Normalize().Values() {
		if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
			return fmt.Errorf("error saving setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing settings: %w", err)
	}
	return nil
}
