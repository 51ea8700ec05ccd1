package models

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	ErrNotFound = errors.New("not found")
)

// Loads an email along with its attachments and mailing list.
func GetEmail(ctx context.Context, db bun.IDB, id int64) (*Email, error) {
	email := &Email{}
	err := db.NewSelect().
		Model(email).
		Relation("Attachments", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("attachment.id ASC")
		}).
		Relation("MailingList").
		Where("email.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrNotFound, "email %d", id)
		}
		return nil, errors.Wrap(err, "could not query email")
	}
	return email, nil
}

func GetAttachment(ctx context.Context, db bun.IDB, id int64) (*Attachment, error) {
	attachment := &Attachment{}
	if err := db.NewSelect().Model(attachment).Where("id = ?", id).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrNotFound, "attachment %d", id)
		}
		return nil, errors.Wrap(err, "could not query attachment")
	}
	return attachment, nil
}

// Correspondents of an email with the header each was found in.
func GetEmailCorrespondents(ctx context.Context, db bun.IDB, emailID int64) ([]EmailCorrespondent, error) {
	var mentions []EmailCorrespondent
	err := db.NewSelect().
		Model(&mentions).
		Relation("Correspondent").
		Where("email_correspondent.email_id = ?", emailID).
		Order("email_correspondent.id ASC").
		Scan(ctx)
	return mentions, errors.Wrap(err, "could not query correspondents")
}

// Narrows down a listing of emails. Zero values do not constrain.
type EmailFilter struct {
	AccountID int64
	MailboxID int64

	Subject       string
	Body          string
	Correspondent string

	FavoritesOnly bool
	ExcludeSpam   bool

	Since time.Time
	Until time.Time

	Limit int
}

func (f EmailFilter) apply(db bun.IDB, query *bun.SelectQuery) *bun.SelectQuery {
	if f.AccountID != 0 {
		query = query.Where("email.account_id = ?", f.AccountID)
	}
	if f.MailboxID != 0 {
		query = query.Where("email.mailbox_id = ?", f.MailboxID)
	}
	if f.Subject != "" {
		query = query.Where("LOWER(email.subject) LIKE ?", contains(f.Subject))
	}
	if f.Body != "" {
		query = query.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(email.plain_bodytext) LIKE ?", contains(f.Body)).
				WhereOr("LOWER(email.html_bodytext) LIKE ?", contains(f.Body))
		})
	}
	if f.Correspondent != "" {
		mentioned := db.NewSelect().
			Model((*EmailCorrespondent)(nil)).
			Column("email_correspondent.email_id").
			Join("JOIN correspondents AS correspondent").
			JoinOn("correspondent.id = email_correspondent.correspondent_id").
			Where("correspondent.address LIKE ?", contains(f.Correspondent))
		query = query.Where("email.id IN (?)", mentioned)
	}
	if f.FavoritesOnly {
		query = query.Where("email.is_favorite = ?", true)
	}
	if f.ExcludeSpam {
		query = query.Where("UPPER(COALESCE(email.x_spam, '')) NOT LIKE ?", "%YES%")
	}
	if !f.Since.IsZero() {
		query = query.Where("email.datetime >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		query = query.Where("email.datetime < ?", f.Until)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	return query
}

func contains(value string) string {
	return "%" + strings.ToLower(value) + "%"
}

// Lists emails matching the filter, newest first.
func ListEmails(ctx context.Context, db bun.IDB, filter EmailFilter) ([]Email, error) {
	var emails []Email
	query := db.NewSelect().Model(&emails)
	err := filter.apply(db, query).
		Order("email.datetime DESC", "email.id DESC").
		Scan(ctx)
	return emails, errors.Wrap(err, "could not list emails")
}

func SetEmailFavorite(ctx context.Context, db bun.IDB, email *Email, favorite bool) error {
	email.IsFavorite = favorite
	_, err := db.NewUpdate().
		Model(email).
		Column("is_favorite", "updated_at").
		WherePK().
		Exec(ctx)
	return errors.Wrap(err, "could not update email")
}

func SetAttachmentFavorite(ctx context.Context, db bun.IDB, attachment *Attachment, favorite bool) error {
	attachment.IsFavorite = favorite
	attachment.UpdatedAt = time.Now()
	_, err := db.NewUpdate().
		Model(attachment).
		Column("is_favorite", "updated_at").
		WherePK().
		Exec(ctx)
	return errors.Wrap(err, "could not update attachment")
}
