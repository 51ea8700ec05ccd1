package models

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// The email followed by every transitive reply to it, depth first with
// siblings in chronological order.
func SubConversation(ctx context.Context, db bun.IDB, email Email) ([]Email, error) {
	seen := map[int64]bool{}
	var conversation []Email

	var walk func(email Email) error
	walk = func(email Email) error {
		if seen[email.ID] {
			return nil
		}
		seen[email.ID] = true
		conversation = append(conversation, email)

		var replies []Email
		err := db.NewSelect().
			Model(&replies).
			Where("in_reply_to_id = ?", email.ID).
			Order("datetime ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return errors.Wrap(err, "could not query replies")
		}

		for _, reply := range replies {
			if err := walk(reply); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(email); err != nil {
		return nil, err
	}
	return conversation, nil
}

// The whole thread an email belongs to, starting from its root.
func FullConversation(ctx context.Context, db bun.IDB, email Email) ([]Email, error) {
	root := email
	seen := map[int64]bool{root.ID: true}

	for root.InReplyToID != 0 {
		var parent Email
		err := db.NewSelect().Model(&parent).Where("id = ?", root.InReplyToID).Scan(ctx)
		if err == sql.ErrNoRows {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "could not query parent email")
		}

		if seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		root = parent
	}

	return SubConversation(ctx, db, root)
}
