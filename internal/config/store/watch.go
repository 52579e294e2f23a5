package store

import (
	"context"
	"database/sql"
	"time"
)

const minWatchInterval = 500 * time.Millisecond

// ChangeSnapshot holds one "max(updated_at):count" marker per watched table.
type ChangeSnapshot struct {
	Settings string
	Media    string
}

// ChangeEvent names which tables moved between two snapshots.
type ChangeEvent struct {
	SettingsChanged bool
	MediaChanged    bool
	Snapshot        ChangeSnapshot
}

// Changed reports whether any table moved.
func (e ChangeEvent) Changed() bool {
	return e.SettingsChanged || e.MediaChanged
}

const snapshotQuery = `
	SELECT
		(SELECT IFNULL(MAX(updated_at), '') || ':' || COUNT(*)
		 FROM settings WHERE instance_name = ? AND profile_name = ?),
		(SELECT IFNULL(MAX(updated_at), '') || ':' || COUNT(*)
		 FROM media_files WHERE instance_name = ?)`

// Watch polls the settings and media tables every interval (at least
// 500ms) and sends an event whenever either changes. The channel closes
// when ctx ends.
func (s *Store) Watch(ctx context.Context, interval time.Duration) (<-chan ChangeEvent, error) {
	if s == nil {
		return nil, sql.ErrConnDone
	}
	interval = max(interval, minWatchInterval)

	last, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan ChangeEvent, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			next, err := s.snapshot(ctx)
			if err != nil {
				continue
			}
			ev := ChangeEvent{
				SettingsChanged: next.Settings != last.Settings,
				MediaChanged:    next.Media != last.Media,
				Snapshot:        next,
			}
			if !ev.Changed() {
				continue
			}
			select {
			case out <- ev:
				last = next
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) snapshot(ctx context.Context) (ChangeSnapshot, error) {
	var snap ChangeSnapshot
	err := s.db.QueryRowContext(ctx, snapshotQuery, s.instance, s.profile, s.instance).
		Scan(&snap.Settings, &snap.Media)
	return snap, err
}
