package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dexft/dexft/internal/config"
)

const (
	busyTimeout = 5 * time.Second
	openTimeout = 5 * time.Second
)

// Options selects which database Open uses.
type Options struct {
	InstanceName string // defaults to config.DefaultInstance
	ProfileName  string // defaults to config.DefaultProfile
	DBPath       string // overrides the instance config.db, mostly for tests
	ReadOnly     bool   // skip migrations and reject writes
}

// Store is the sqlite-backed settings database and media index for one
// instance/profile pair.
type Store struct {
	db       *sql.DB
	instance string
	profile  string
	readOnly bool
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// Open connects to the instance database, creating directories, running
// migrations and seeding the instance and profile rows as needed.
func Open(opts Options) (*Store, error) {
	if opts.InstanceName == "" {
		opts.InstanceName = config.DefaultInstance
	}
	if opts.ProfileName == "" {
		opts.ProfileName = config.DefaultProfile
	}

	path, err := resolveDBPath(opts)
	if err != nil {
		return nil, err
	}
	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}
	// One connection keeps pragmas and WAL state consistent.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := prepare(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		instance: opts.InstanceName,
		profile:  opts.ProfileName,
		readOnly: opts.ReadOnly,
	}, nil
}

func resolveDBPath(opts Options) (string, error) {
	if opts.DBPath != "" {
		return opts.DBPath, nil
	}
	profile, err := config.EnsureProfileDirs(opts.InstanceName, opts.ProfileName)
	if err != nil {
		return "", fmt.Errorf("config: ensure directories: %w", err)
	}
	return profile.Instance.ConfigDB, nil
}

func prepare(ctx context.Context, db *sql.DB, opts Options) error {
	for _, pragma := range pragmasFor(opts.ReadOnly) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("config: apply %q: %w", pragma, err)
		}
	}
	if opts.ReadOnly {
		return nil
	}
	if err := migrate(ctx, db); err != nil {
		return err
	}
	return seed(ctx, db, opts.InstanceName, opts.ProfileName)
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InstanceName returns the instance the store is bound to.
func (s *Store) InstanceName() string {
	return s.instance
}

// Settings loads and parses the typed daemon settings for the active profile.
func (s *Store) Settings(ctx context.Context) (config.Settings, error) {
	values, err := s.LoadSettings(ctx)
	if err != nil {
		return config.Settings{}, err
	}
	return config.ParseSettings(values), nil
}

func (s *Store) writable(op string) error {
	if s.readOnly {
		return fmt.Errorf("config: %s: store opened read-only", op)
	}
	return nil
}
