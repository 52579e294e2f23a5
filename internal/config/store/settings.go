package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const upsertSetting = `
	INSERT INTO settings (instance_name, profile_name, key, value, updated_at)
	VALUES (?, ?, ?, ?, strftime('%Y-%m-%d %H:%M:%f', 'now'))
	ON CONFLICT(instance_name, profile_name, key)
	DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// LoadSettings returns the raw settings of the active profile. When keys
// are given only those entries are read.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	var b strings.Builder
	b.WriteString(`SELECT key, value FROM settings WHERE instance_name = ? AND profile_name = ?`)
	args := []any{s.instance, s.profile}
	if len(keys) > 0 {
		b.WriteString(" AND key IN (?")
		b.WriteString(strings.Repeat(", ?", len(keys)-1))
		b.WriteString(")")
		for _, k := range keys {
			args = append(args, k)
		}
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	pairs, err := collectRows(rows, scanStringPair, "settings")
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		values[p[0]] = p[1]
	}
	return values, nil
}

// SaveSettings upserts values into the active profile in one transaction.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if err := s.writable("save settings"); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, upsertSetting, s.instance, s.profile, key, value); err != nil {
				return fmt.Errorf("config: save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// DeleteSetting drops key from the active profile so its default applies.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if err := s.writable("delete setting"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE instance_name = ? AND profile_name = ? AND key = ?`,
		s.instance, s.profile, key)
	if err != nil {
		return fmt.Errorf("config: delete setting %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFoundError{Entity: "setting", Key: key}
	}
	return nil
}
