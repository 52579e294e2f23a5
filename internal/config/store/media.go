package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultMimeType = "application/octet-stream"

// RegisterMedia upserts a file into the media index so other clients can
// discover it. Re-registering an unchanged file only refreshes updated_at.
func (s *Store) RegisterMedia(ctx context.Context, file MediaFile) error {
	if err := s.writable("register media"); err != nil {
		return err
	}
	path := strings.TrimSpace(file.Path)
	if path == "" {
		return fmt.Errorf("config: register media: path required")
	}
	mime := strings.TrimSpace(file.MimeType)
	if mime == "" {
		mime = defaultMimeType
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_files (instance_name, path, size, mod_time, mime_type, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%d %H:%M:%f', 'now'), strftime('%Y-%m-%d %H:%M:%f', 'now'))
		ON CONFLICT(instance_name, path) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			mime_type = excluded.mime_type,
			updated_at = excluded.updated_at
	`, s.instance, path, file.Size, file.ModTime.UTC().Format(time.RFC3339Nano), mime)
	if err != nil {
		return fmt.Errorf("config: register media %q: %w", path, err)
	}
	return nil
}

// GetMedia returns a single media index entry.
func (s *Store) GetMedia(ctx context.Context, path string) (MediaFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, mime_type, registered_at, updated_at
		FROM media_files
		WHERE instance_name = ? AND path = ?
	`, s.instance, path)
	file, err := scanMediaFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MediaFile{}, NotFoundError{Entity: "media file", Key: path}
	}
	if err != nil {
		return MediaFile{}, fmt.Errorf("config: get media %q: %w", path, err)
	}
	return file, nil
}

// ListMedia returns every indexed file ordered by path.
func (s *Store) ListMedia(ctx context.Context) ([]MediaFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mod_time, mime_type, registered_at, updated_at
		FROM media_files
		WHERE instance_name = ?
		ORDER BY path
	`, s.instance)
	if err != nil {
		return nil, fmt.Errorf("config: list media: %w", err)
	}
	return collectRows(rows, scanMediaFile, "media")
}

// PruneMedia removes index entries under dir that were not refreshed since
// cutoff, i.e. files that disappeared between scans. Returns the number removed.
func (s *Store) PruneMedia(ctx context.Context, dir string, cutoff time.Time) (int64, error) {
	if err := s.writable("prune media"); err != nil {
		return 0, err
	}
	prefix := strings.TrimRight(dir, "/") + "/"
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM media_files
		WHERE instance_name = ? AND instr(path, ?) = 1 AND updated_at < ?
	`, s.instance, prefix, cutoff.UTC().Format("2006-01-02 15:04:05.000"))
	if err != nil {
		return 0, fmt.Errorf("config: prune media under %q: %w", dir, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
