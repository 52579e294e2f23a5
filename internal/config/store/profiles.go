package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Profiles lists the instance's settings profiles by name.
func (s *Store) Profiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, is_default, created_at, updated_at FROM profiles WHERE instance_name = ? ORDER BY name`,
		s.instance)
	if err != nil {
		return nil, fmt.Errorf("config: list profiles: %w", err)
	}
	return collectRows(rows, scanProfile, "profiles")
}

// CreateProfile adds an empty profile. Existing names are left untouched,
// and keys the profile lacks parse to their defaults.
func (s *Store) CreateProfile(ctx context.Context, name string) error {
	if err := s.writable("create profile"); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("config: create profile: name required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (instance_name, name) VALUES (?, ?) ON CONFLICT(instance_name, name) DO NOTHING`,
		s.instance, name)
	if err != nil {
		return fmt.Errorf("config: create profile %q: %w", name, err)
	}
	return nil
}

// ActivateProfile makes name the instance's only default profile.
func (s *Store) ActivateProfile(ctx context.Context, name string) error {
	if err := s.writable("activate profile"); err != nil {
		return err
	}
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE profiles SET is_default = 1, updated_at = CURRENT_TIMESTAMP WHERE instance_name = ? AND name = ?`,
			s.instance, name)
		if err != nil {
			return fmt.Errorf("config: activate profile %q: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return NotFoundError{Entity: "profile", Key: name}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE profiles SET is_default = 0, updated_at = CURRENT_TIMESTAMP
			 WHERE instance_name = ? AND name <> ? AND is_default <> 0`,
			s.instance, name); err != nil {
			return fmt.Errorf("config: clear default profile: %w", err)
		}
		return nil
	})
}

func scanProfile(scanner rowScanner) (Profile, error) {
	var p Profile
	if err := scanner.Scan(&p.Name, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}
