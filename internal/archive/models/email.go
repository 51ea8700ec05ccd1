package models

import (
	"context"
	"time"

	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/uptrace/bun"
)

// An archived message. The message id is unique per account, a message
// delivered to several mailboxes of the same account is archived once.
type Email struct {
	ID        int64  `bun:",pk,autoincrement"`
	MessageID string `bun:",notnull,unique:emails_message_id_account"`

	AccountID int64         `bun:",notnull,unique:emails_message_id_account"`
	Account   *core.Account `bun:"rel:belongs-to,join:account_id=id,on_delete:cascade"`
	MailboxID int64         `bun:",notnull"`
	Mailbox   *core.Mailbox `bun:"rel:belongs-to,join:mailbox_id=id,on_delete:cascade"`

	Datetime      time.Time `bun:",notnull"`
	Subject       string
	PlainBodytext string
	HTMLBodytext  string `bun:"html_bodytext"`
	Datasize      int64  `bun:",notnull"`

	InReplyToID   int64        `bun:",nullzero"`
	InReplyTo     *Email       `bun:"rel:belongs-to,join:in_reply_to_id=id,on_delete:set null"`
	MailingListID int64        `bun:",nullzero"`
	MailingList   *MailingList `bun:"rel:belongs-to,join:mailing_list_id=id,on_delete:set null"`

	Headers    map[string]string `bun:",type:json"`
	XSpam      string
	IsFavorite bool `bun:",notnull"`

	EMLPath     string `bun:"eml_path,nullzero"`
	PreviewPath string `bun:",nullzero"`

	Attachments []Attachment `bun:"rel:has-many,join:id=email_id"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

var _ bun.BeforeAppendModelHook = (*Email)(nil)

func (e *Email) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		e.UpdatedAt = time.Now()
	}
	return nil
}

// Every path this email owns on disk, its attachments included when loaded.
func (e *Email) StoredPaths() []string {
	var paths []string
	for _, path := range []string{e.EMLPath, e.PreviewPath} {
		if path != "" {
			paths = append(paths, path)
		}
	}
	for _, attachment := range e.Attachments {
		if attachment.FilePath != "" {
			paths = append(paths, attachment.FilePath)
		}
	}
	return paths
}

// The References header, one row per resolvable reference.
type EmailReference struct {
	ID           int64  `bun:",pk,autoincrement"`
	EmailID      int64  `bun:",notnull,unique:email_references_pair"`
	Email        *Email `bun:"rel:belongs-to,join:email_id=id,on_delete:cascade"`
	ReferencedID int64  `bun:",notnull,unique:email_references_pair"`
	Referenced   *Email `bun:"rel:belongs-to,join:referenced_id=id,on_delete:cascade"`
}
