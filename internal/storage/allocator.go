package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// The result of an allocation. Created is set when this call made the
// directory and Shards lists the shard directories it made, so callers
// can undo both if their own transaction fails.
type Allocation struct {
	Path    string
	Created bool
	Shard   int64
	Shards  []string
}

// Hands out per message directories spread over shards of bounded size.
// The shard table is the source of truth, every mutation of it happens
// inside a transaction, and on postgres the current row is locked.
type Allocator struct {
	root    string
	maxSize int

	// Serializes allocations within this process. The row lock covers
	// other processes.
	lock sync.Mutex
}

func NewAllocator(root string, maxSubdirsPerShard int) (*Allocator, error) {
	if maxSubdirsPerShard < 1 {
		return nil, errors.Errorf("a shard needs to hold at least one subdirectory, got %d", maxSubdirsPerShard)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve storage root")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create storage root")
	}

	return &Allocator{root: root, maxSize: maxSubdirsPerShard}, nil
}

func (a *Allocator) Root() string {
	return a.root
}

// Returns the path to the directory for name, creating it if necessary.
func (a *Allocator) GetSubdirectory(ctx context.Context, db bun.IDB, name string) (string, error) {
	allocation, err := a.Allocate(ctx, db, name)
	return allocation.Path, err
}

// Resolves the directory for name under the current shard. A new
// directory bumps the shard's counter, and the shard is archived in
// favour of a fresh one as soon as the counter reaches the maximum.
// When db is already a transaction the work happens in a savepoint.
func (a *Allocator) Allocate(ctx context.Context, db bun.IDB, name string) (Allocation, error) {
	if strings.TrimSpace(name) == "" {
		return Allocation{}, errors.New("cannot allocate a directory for an empty name")
	}
	name = CleanFilename(name)

	a.lock.Lock()
	defer a.lock.Unlock()

	var allocation Allocation
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		shard, err := a.current(ctx, tx, &allocation)
		if err != nil {
			return err
		}

		allocation.Shard = shard.DirectoryNumber
		allocation.Path = filepath.Join(shard.Path, name)

		if info, err := os.Stat(allocation.Path); err == nil {
			if !info.IsDir() {
				return errors.Errorf("%s exists and is not a directory", allocation.Path)
			}
			return nil
		} else if !os.IsNotExist(err) {
			return errors.Wrap(err, "could not stat subdirectory")
		}

		if err := os.Mkdir(allocation.Path, 0o755); err != nil {
			return errors.Wrap(err, "could not create subdirectory")
		}
		allocation.Created = true

		slog.Debug("created subdirectory", "shard", shard.DirectoryNumber, "name", name)
		return a.increment(ctx, tx, shard, &allocation)
	})
	if err != nil {
		if allocation.Created {
			os.Remove(allocation.Path)
		}
		for index := len(allocation.Shards) - 1; index >= 0; index-- {
			os.Remove(allocation.Shards[index])
		}
		return Allocation{}, errors.Wrap(err, "could not allocate subdirectory")
	}

	return allocation, nil
}

// Loads the current shard, creating the first one on a fresh install.
func (a *Allocator) current(ctx context.Context, tx bun.Tx, allocation *Allocation) (*StorageShard, error) {
	shard := &StorageShard{}
	query := tx.NewSelect().
		Model(shard).
		Where("is_current = ?", true).
		Limit(1)
	if tx.Dialect().Name() == dialect.PG {
		query = query.For("UPDATE")
	}

	err := query.Scan(ctx)
	if err == nil {
		return shard, nil
	} else if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "could not query current shard")
	}

	count, err := tx.NewSelect().Model((*StorageShard)(nil)).Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not count shards")
	}

	number := int64(0)
	if count == 0 {
		if entries, err := os.ReadDir(a.root); err == nil && len(entries) > 0 {
			slog.Error(
				"storage root is not empty but no shards are recorded",
				"severity", "critical",
				"root", a.root,
				"entries", len(entries),
			)
		}
	} else {
		// Shards exist but none is current. Continue after the highest
		// one instead of reusing a number.
		var last int64
		err := tx.NewSelect().
			Model((*StorageShard)(nil)).
			ColumnExpr("MAX(directory_number)").
			Scan(ctx, &last)
		if err != nil {
			return nil, errors.Wrap(err, "could not find last shard")
		}
		slog.Error("no current shard recorded", "severity", "critical", "last", last)
		number = last + 1
	}

	return a.create(ctx, tx, number, allocation)
}

func (a *Allocator) create(ctx context.Context, tx bun.Tx, number int64, allocation *Allocation) (*StorageShard, error) {
	shard := &StorageShard{
		DirectoryNumber: number,
		Path:            filepath.Join(a.root, strconv.FormatInt(number, 10)),
		IsCurrent:       true,
	}

	if err := os.Mkdir(shard.Path, 0o755); err == nil {
		allocation.Shards = append(allocation.Shards, shard.Path)
	} else if !os.IsExist(err) {
		return nil, errors.Wrap(err, "could not create shard directory")
	}

	if _, err := tx.NewInsert().Model(shard).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "could not record shard")
	}

	slog.Info("created storage shard", "shard", number, "path", shard.Path)
	return shard, nil
}

func (a *Allocator) increment(ctx context.Context, tx bun.Tx, shard *StorageShard, allocation *Allocation) error {
	shard.SubdirectoryCount += 1
	shard.UpdatedAt = time.Now()
	if shard.SubdirectoryCount >= a.maxSize {
		shard.IsCurrent = false
	}

	_, err := tx.NewUpdate().
		Model(shard).
		Column("subdirectory_count", "is_current", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not update shard")
	}

	if !shard.IsCurrent {
		slog.Info("storage shard is full", "shard", shard.DirectoryNumber, "count", shard.SubdirectoryCount)
		if _, err := a.create(ctx, tx, shard.DirectoryNumber+1, allocation); err != nil {
			return err
		}
	}

	return nil
}

// Verifies that exactly one shard is current and that every shard's
// counter matches the subdirectories on disk. Drift is reported, never
// repaired.
func (a *Allocator) Healthcheck(ctx context.Context, db bun.IDB) (bool, error) {
	var shards []StorageShard
	if err := db.NewSelect().Model(&shards).Order("directory_number ASC").Scan(ctx); err != nil {
		return false, errors.Wrap(err, "could not query shards")
	}

	healthy := true

	current := 0
	for _, shard := range shards {
		if shard.IsCurrent {
			current += 1
		}
	}
	if current != 1 {
		slog.Error("expected exactly one current shard", "severity", "critical", "current", current)
		healthy = false
	}

	for _, shard := range shards {
		present, err := countSubdirectories(shard.Path)
		if err != nil {
			slog.Error("could not read shard", "severity", "critical", "shard", shard.DirectoryNumber, "err", err)
			healthy = false
			continue
		}

		if present != shard.SubdirectoryCount {
			slog.Error(
				"shard counter does not match disk",
				"severity", "critical",
				"shard", shard.DirectoryNumber,
				"recorded", shard.SubdirectoryCount,
				"present", present,
			)
			healthy = false
		}
	}

	return healthy, nil
}

func countSubdirectories(path string) (int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			count += 1
		}
	}
	return count, nil
}
