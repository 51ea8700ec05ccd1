package models

import (
	"context"
	"log/slog"

	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/storage"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Deletion runs in two phases. The first transaction queues every stored
// file of the affected rows and deletes the rows, the database cascades
// to their children. The second phase removes the queued files. Should it
// fail, the files stay queued and a later CollectOrphans retries them.

func DeleteEmail(ctx context.Context, db *bun.DB, id int64) error {
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		emails, err := emailsWithAttachments(ctx, tx, "email.id = ?", id)
		if err != nil {
			return err
		}
		if len(emails) == 0 {
			return errors.Wrapf(ErrNotFound, "email %d", id)
		}
		return deleteEmails(ctx, tx, "email deleted", emails)
	})
	if err != nil {
		return err
	}

	_, err = CollectOrphans(ctx, db)
	return err
}

func DeleteAttachment(ctx context.Context, db *bun.DB, id int64) error {
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		attachment, err := GetAttachment(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := storage.MarkOrphans(ctx, tx, "attachment deleted", attachment.FilePath); err != nil {
			return err
		}

		_, err = tx.NewDelete().Model(attachment).WherePK().Exec(ctx)
		return errors.Wrap(err, "could not delete attachment")
	})
	if err != nil {
		return err
	}

	_, err = CollectOrphans(ctx, db)
	return err
}

func DeleteMailbox(ctx context.Context, db *bun.DB, id int64) error {
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		emails, err := emailsWithAttachments(ctx, tx, "email.mailbox_id = ?", id)
		if err != nil {
			return err
		}
		if err := deleteEmails(ctx, tx, "mailbox deleted", emails); err != nil {
			return err
		}

		result, err := tx.NewDelete().Model((*core.Mailbox)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not delete mailbox")
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return errors.Wrapf(ErrNotFound, "mailbox %d", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = CollectOrphans(ctx, db)
	return err
}

func DeleteAccount(ctx context.Context, db *bun.DB, id int64) error {
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		emails, err := emailsWithAttachments(ctx, tx, "email.account_id = ?", id)
		if err != nil {
			return err
		}
		if err := deleteEmails(ctx, tx, "account deleted", emails); err != nil {
			return err
		}

		result, err := tx.NewDelete().Model((*core.Account)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not delete account")
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return errors.Wrapf(ErrNotFound, "account %d", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = CollectOrphans(ctx, db)
	return err
}

// Removes queued files that no remaining row points at.
func CollectOrphans(ctx context.Context, db bun.IDB) (int, error) {
	return storage.CollectOrphans(ctx, db, func(ctx context.Context, path string) (bool, error) {
		emails, err := db.NewSelect().
			Model((*Email)(nil)).
			Where("eml_path = ?", path).
			WhereOr("preview_path = ?", path).
			Exists(ctx)
		if err != nil || emails {
			return emails, errors.Wrap(err, "could not check email paths")
		}

		attachments, err := db.NewSelect().
			Model((*Attachment)(nil)).
			Where("file_path = ?", path).
			Exists(ctx)
		return attachments, errors.Wrap(err, "could not check attachment paths")
	})
}

func emailsWithAttachments(ctx context.Context, db bun.IDB, where string, args ...any) ([]Email, error) {
	var emails []Email
	err := db.NewSelect().
		Model(&emails).
		Relation("Attachments").
		Where(where, args...).
		Scan(ctx)
	return emails, errors.Wrap(err, "could not query emails")
}

func deleteEmails(ctx context.Context, db bun.IDB, reason string, emails []Email) error {
	if len(emails) == 0 {
		return nil
	}

	var ids []int64
	var paths []string
	for _, email := range emails {
		ids = append(ids, email.ID)
		paths = append(paths, email.StoredPaths()...)
	}

	if err := storage.MarkOrphans(ctx, db, reason, paths...); err != nil {
		return err
	}

	_, err := db.NewDelete().
		Model((*Email)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not delete emails")
	}

	slog.Debug("deleted emails", "count", len(ids), "files", len(paths), "reason", reason)
	return nil
}
