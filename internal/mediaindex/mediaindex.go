// Package mediaindex registers files of the shared directory with the host
// media index so they are discoverable as soon as the server is reachable.
package mediaindex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dexft/dexft/internal/config/store"
	"github.com/dexft/dexft/internal/eventbus"
)

// Index is the host media index. *store.Store implements it.
type Index interface {
	RegisterMedia(ctx context.Context, file store.MediaFile) error
}

// Pruner is optionally implemented by an Index that can forget files which
// disappeared from a directory since the previous pass.
type Pruner interface {
	PruneMedia(ctx context.Context, dir string, cutoff time.Time) (int64, error)
}

// DirectoryError reports that the scan root is missing or not a directory.
// It is a diagnostic: the scan still yields an (empty) sequence.
type DirectoryError struct {
	Dir string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("mediaindex: scan %s: %v", e.Dir, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

var errNotDirectory = errors.New("not a directory")

// Synchronizer walks a directory and registers each regular file.
type Synchronizer struct {
	index Index
	bus   *eventbus.Bus
}

// New returns a synchronizer writing into index and publishing scan
// summaries on bus (which may be nil).
func New(index Index, bus *eventbus.Bus) *Synchronizer {
	return &Synchronizer{index: index, bus: bus}
}

// Scan returns a lazy, single-use sequence of (path, registration error)
// pairs for the regular files directly under dir. Per-file failures are
// yielded and never stop the walk. When dir cannot be scanned the sequence
// is empty and the returned error is a *DirectoryError.
func (s *Synchronizer) Scan(ctx context.Context, dir string) (iter.Seq2[string, error], error) {
	var consumed atomic.Bool

	info, err := os.Stat(dir)
	if err == nil && !info.IsDir() {
		err = errNotDirectory
	}
	if err != nil {
		return func(func(string, error) bool) {}, &DirectoryError{Dir: dir, Err: err}
	}

	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			yield(dir, &DirectoryError{Dir: dir, Err: err})
			return
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			if !entry.Type().IsRegular() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if !yield(path, s.register(ctx, path, entry)) {
				return
			}
		}
	}, nil
}

func (s *Synchronizer) register(ctx context.Context, path string, entry os.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return fmt.Errorf("mediaindex: stat %s: %w", path, err)
	}
	file := store.MediaFile{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		file.MimeType = mt.String()
	}
	if s.index == nil {
		return fmt.Errorf("mediaindex: register %s: no media index", path)
	}
	if err := s.index.RegisterMedia(ctx, file); err != nil {
		return fmt.Errorf("mediaindex: register %s: %w", path, err)
	}
	return nil
}

// Report summarises one Sync pass.
type Report struct {
	Dir        string
	Registered int
	Failed     int
	Pruned     int64
	Diagnostic error
	Duration   time.Duration
}

// Sync drains a scan of dir, logs per-file failures, prunes entries for
// files that vanished and publishes the summary on media.scan.
func (s *Synchronizer) Sync(ctx context.Context, dir string) Report {
	started := time.Now()
	// Stored timestamps are millisecond precision.
	cutoff := started.UTC().Truncate(time.Millisecond)
	report := Report{Dir: dir}

	seq, err := s.Scan(ctx, dir)
	if err != nil {
		report.Diagnostic = err
		log.Printf("[MediaIndex] %v", err)
	}
	for path, regErr := range seq {
		if regErr != nil {
			report.Failed++
			log.Printf("[MediaIndex] %s: %v", path, regErr)
			continue
		}
		report.Registered++
	}

	if report.Diagnostic == nil {
		if pruner, ok := s.index.(Pruner); ok {
			n, err := pruner.PruneMedia(ctx, dir, cutoff)
			if err != nil {
				log.Printf("[MediaIndex] prune %s: %v", dir, err)
			}
			report.Pruned = n
		}
	}

	report.Duration = time.Since(started)
	if report.Failed > 0 {
		log.Printf("[MediaIndex] scan of %s: %d registered, %d failed", dir, report.Registered, report.Failed)
	}

	evt := eventbus.MediaScanEvent{
		Dir:        dir,
		Registered: report.Registered,
		Failed:     report.Failed,
		Duration:   report.Duration,
	}
	if report.Diagnostic != nil {
		evt.Diagnostic = report.Diagnostic.Error()
	}
	eventbus.Publish(ctx, s.bus, eventbus.Daemon.MediaScan, eventbus.SourceMediaIndex, evt)
	return report
}
