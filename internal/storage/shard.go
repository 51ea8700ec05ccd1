package storage

import (
	"time"
)

// A directory under the storage root holding a bounded number of
// message named subdirectories. Exactly one shard is current at a time,
// and once archived a shard is never written to again.
type StorageShard struct {
	ID                int64  `bun:",pk,autoincrement"`
	DirectoryNumber   int64  `bun:",notnull,unique"`
	Path              string `bun:",notnull,unique"`
	SubdirectoryCount int    `bun:",notnull"`
	IsCurrent         bool   `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// A stored file whose owning row is gone. It is removed from disk by
// the collector and dequeued afterwards, a row that stays here means
// the removal failed.
type OrphanFile struct {
	ID     int64  `bun:",pk,autoincrement"`
	Path   string `bun:",notnull,unique"`
	Reason string

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
