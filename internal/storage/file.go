package storage

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	ErrNotStored   = errors.New("file was never stored")
	ErrFileMissing = errors.New("stored file is missing")
)

// Writes a blob to path exactly once. An existing non-empty file is
// treated as already stored and left untouched, in which case written
// is false. A failed write truncates the file back to empty so that a
// partial payload is never mistaken for a stored one.
func WriteOnce(path string, write func(io.Writer) error) (written bool, err error) {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		slog.Debug("file already stored", "path", path)
		return false, nil
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return false, errors.Wrap(err, "could not open file for writing")
	}

	if err := write(file); err != nil {
		file.Close()
		truncate(path)
		return false, errors.Wrap(err, "could not write file")
	}

	if err := file.Close(); err != nil {
		truncate(path)
		return false, errors.Wrap(err, "could not flush file")
	}

	return true, nil
}

func truncate(path string) {
	if err := os.Truncate(path, 0); err != nil {
		slog.Error("could not truncate partially written file", "path", path, "err", err)
	}
}

// Opens a stored file for reading.
func Open(path string) (*os.File, error) {
	if path == "" {
		return nil, ErrNotStored
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrFileMissing, path)
		}
		return nil, errors.Wrap(err, "could not open stored file")
	}
	return file, nil
}

// Queues paths for removal. It runs in the transaction that deletes the
// owning rows, so the queue and the rows never disagree.
func MarkOrphans(ctx context.Context, db bun.IDB, reason string, paths ...string) error {
	var orphans []OrphanFile
	for _, path := range paths {
		if path != "" {
			orphans = append(orphans, OrphanFile{Path: path, Reason: reason})
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	_, err := db.NewInsert().
		Model(&orphans).
		On("CONFLICT (path) DO NOTHING").
		Exec(ctx)
	return errors.Wrap(err, "could not queue orphaned files")
}

// Removes each queued file and dequeues it. Paths that inUse reports as
// still referenced are dequeued without touching the disk. Returns the
// number of files removed, the first failure is returned after every
// entry was attempted.
func CollectOrphans(ctx context.Context, db bun.IDB, inUse func(ctx context.Context, path string) (bool, error)) (int, error) {
	var orphans []OrphanFile
	if err := db.NewSelect().Model(&orphans).Order("id ASC").Scan(ctx); err != nil {
		return 0, errors.Wrap(err, "could not query orphaned files")
	}

	removed := 0
	var first error
	for _, orphan := range orphans {
		used, err := inUse(ctx, orphan.Path)
		if err != nil {
			first = firstErr(first, err)
			continue
		}

		if !used {
			if err := os.Remove(orphan.Path); err != nil && !os.IsNotExist(err) {
				slog.Error("could not remove orphaned file", "path", orphan.Path, "err", err)
				first = firstErr(first, errors.Wrap(err, "could not remove orphaned file"))
				continue
			}
			removed += 1
		}

		if _, err := db.NewDelete().Model(&orphan).WherePK().Exec(ctx); err != nil {
			first = firstErr(first, errors.Wrap(err, "could not dequeue orphaned file"))
		}
	}

	if removed > 0 {
		slog.Info("removed orphaned files", "count", removed)
	}
	return removed, first
}

func firstErr(current error, next error) error {
	if current != nil {
		return current
	}
	return next
}
