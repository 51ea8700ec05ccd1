package database

import (
	"context"

	archive "github.com/ksdme/mailvault/internal/archive/models"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/storage"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Tables in dependency order, referenced tables come first.
func tables() []any {
	return []any{
		(*core.Account)(nil),
		(*core.Mailbox)(nil),
		(*archive.Correspondent)(nil),
		(*archive.MailingList)(nil),
		(*archive.Email)(nil),
		(*archive.EmailCorrespondent)(nil),
		(*archive.EmailReference)(nil),
		(*archive.Attachment)(nil),
		(*storage.StorageShard)(nil),
		(*storage.OrphanFile)(nil),
	}
}

// Creates every table and index the archive needs. It is safe to
// call on an already migrated database.
func Migrate(ctx context.Context, db *bun.DB) error {
	for _, model := range tables() {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			WithForeignKeys().
			Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "could not create table for %T", model)
		}
	}

	// Backs the single current shard invariant.
	_, err := db.NewCreateIndex().
		Model((*storage.StorageShard)(nil)).
		Index("storage_shards_single_current").
		Unique().
		IfNotExists().
		Column("is_current").
		Where("is_current = TRUE").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not create storage shard index")
	}

	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*archive.Email)(nil), "emails_mailbox_id", "mailbox_id"},
		{(*archive.Email)(nil), "emails_in_reply_to_id", "in_reply_to_id"},
		{(*archive.Attachment)(nil), "attachments_email_id", "email_id"},
		{(*archive.EmailCorrespondent)(nil), "email_correspondents_correspondent_id", "correspondent_id"},
	}
	for _, index := range indexes {
		_, err := db.NewCreateIndex().
			Model(index.model).
			Index(index.name).
			IfNotExists().
			Column(index.column).
			Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "could not create index %s", index.name)
		}
	}

	return nil
}
