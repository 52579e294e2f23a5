package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migrations are applied in order. PRAGMA user_version records how many
// have run, so append new steps and never edit old ones.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS instances (
			name TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			instance_name TEXT NOT NULL REFERENCES instances(name) ON DELETE CASCADE,
			name TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (instance_name, name)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			instance_name TEXT NOT NULL,
			profile_name TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (instance_name, profile_name, key),
			FOREIGN KEY (instance_name, profile_name) REFERENCES profiles(instance_name, name) ON DELETE CASCADE
		)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS media_files (
			instance_name TEXT NOT NULL REFERENCES instances(name) ON DELETE CASCADE,
			path TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			mod_time TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
			registered_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (instance_name, path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_files_updated ON media_files(instance_name, updated_at)`,
	},
}

func pragmasFor(readOnly bool) []string {
	list := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout/time.Millisecond),
		"PRAGMA foreign_keys = ON",
	}
	if readOnly {
		return list
	}
	return append(list,
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	)
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("config: read schema version: %w", err)
	}
	return v, nil
}

// migrate runs every migration newer than the database's user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range migrations[v] {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			// PRAGMA does not take bind parameters.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("config: migration %d: %w", v+1, err)
		}
	}
	return nil
}

func seed(ctx context.Context, db *sql.DB, instance, profile string) error {
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO instances (name) VALUES (?)
			 ON CONFLICT(name) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`, instance); err != nil {
			return fmt.Errorf("instance: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (instance_name, name, is_default) VALUES (?, ?, 1)
			 ON CONFLICT(instance_name, name) DO NOTHING`, instance, profile); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("config: seed %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, committing only when fn succeeds.
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
