package store

import (
	"database/sql"
	"fmt"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// collectRows drains rows through scan and closes them. what names the
// record kind in wrapped errors.
func collectRows[T any](rows *sql.Rows, scan func(rowScanner) (T, error), what string) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan %s: %w", what, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate %s: %w", what, err)
	}
	return out, nil
}

func scanStringPair(scanner rowScanner) ([2]string, error) {
	var pair [2]string
	err := scanner.Scan(&pair[0], &pair[1])
	return pair, err
}

func scanMediaFile(scanner rowScanner) (MediaFile, error) {
	var file MediaFile
	var modTime, registered, updated string
	if err := scanner.Scan(&file.Path, &file.Size, &modTime, &file.MimeType, &registered, &updated); err != nil {
		return MediaFile{}, err
	}
	var err error
	if file.ModTime, err = time.Parse(time.RFC3339Nano, modTime); err != nil {
		return MediaFile{}, fmt.Errorf("parse mod_time %q: %w", modTime, err)
	}
	file.RegisteredAt = parseSQLiteTime(registered)
	file.UpdatedAt = parseSQLiteTime(updated)
	return file, nil
}

func parseSQLiteTime(value string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.000", "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
