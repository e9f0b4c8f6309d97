package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/intheblack/ledger/internal/ledger/schema"
)

// GetSetting returns the value stored under key. ok is false when the key
// is absent.
func (db *DB) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.conn.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key, replacing any previous value.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	s := schema.Setting{Key: key, Value: value}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid setting: %w", err)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. Missing keys are ignored.
func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns every stored setting ordered by key.
func (db *DB) ListSettings(ctx context.Context) ([]*schema.Setting, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM app_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []*schema.Setting
	for rows.Next() {
		var s schema.Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return settings, nil
}

// LastOpenBookID returns the book recorded by SetLastOpenBookID. ok is false
// when nothing is recorded or the recorded book no longer exists.
func (db *DB) LastOpenBookID(ctx context.Context) (id int64, ok bool, err error) {
	value, ok, err := db.GetSetting(ctx, schema.SettingLastOpenBookID)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err = schema.ParseBookID(value)
	if err != nil {
		return 0, false, nil
	}
	if _, err := db.GetBook(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// SetLastOpenBookID records the book the user last opened.
func (db *DB) SetLastOpenBookID(ctx context.Context, id int64) error {
	return db.SetSetting(ctx, schema.SettingLastOpenBookID, strconv.FormatInt(id, 10))
}

// LastSyncAt returns the incremental pull watermark. ok is false when no
// pull has completed yet, or the stored value is unreadable.
func (db *DB) LastSyncAt(ctx context.Context) (t time.Time, ok bool, err error) {
	value, ok, err := db.GetSetting(ctx, schema.SettingLastSyncAt)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// AdvanceLastSyncAt moves the watermark to t. The watermark never moves
// backwards: if t is not after the stored value nothing is written and
// false is returned.
func (db *DB) AdvanceLastSyncAt(ctx context.Context, t time.Time) (bool, error) {
	current, ok, err := db.LastSyncAt(ctx)
	if err != nil {
		return false, err
	}
	if ok && !t.After(current) {
		return false, nil
	}
	if err := db.SetSetting(ctx, schema.SettingLastSyncAt, formatTime(t)); err != nil {
		return false, err
	}
	return true, nil
}
