package models

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ksdme/mailvault/internal/config"
	"github.com/ksdme/mailvault/internal/utils"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	ErrInvalidMailbox = errors.New("invalid mailbox")
)

const InboxName = "INBOX"

// A folder on an account. Its toggles decide which blobs are written to
// storage when a message lands in it.
type Mailbox struct {
	ID   int64  `bun:",pk,autoincrement"`
	Name string `bun:",notnull,unique:mailboxes_name_account"`

	AccountID int64    `bun:",notnull,unique:mailboxes_name_account"`
	Account   *Account `bun:"rel:belongs-to,join:account_id=id,on_delete:cascade"`

	SaveToEML       bool `bun:",notnull"`
	SaveAttachments bool `bun:",notnull"`
	SaveImages      bool `bun:",notnull"`
	SaveToHTML      bool `bun:",notnull"`
	IsFavorite      bool `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// A mailbox on an account populated with the configured defaults.
func NewMailbox(account Account, name string) Mailbox {
	return Mailbox{
		Name:            strings.TrimSpace(name),
		AccountID:       account.ID,
		SaveToEML:       config.Ingest.SaveToEMLDefault,
		SaveAttachments: config.Ingest.SaveAttachmentsDefault,
		SaveImages:      config.Ingest.SaveImagesDefault,
		SaveToHTML:      config.Ingest.SaveToHTMLDefault,
	}
}

func CreateMailbox(ctx context.Context, db bun.IDB, mailbox *Mailbox) error {
	mailbox.Name = strings.TrimSpace(mailbox.Name)
	if mailbox.Name == "" {
		return errors.Wrap(ErrInvalidMailbox, "name cannot be empty")
	}

	if _, err := db.NewInsert().Model(mailbox).Exec(ctx); err != nil {
		if utils.IsUniqueConstraintErr(err) {
			return errors.Wrap(ErrInvalidMailbox, "a mailbox with this name already exists")
		}
		return errors.Wrap(err, "could not create mailbox")
	}

	return nil
}

// Finds an existing mailbox with a name on the account or creates one
// with the default toggles.
func GetOrCreateMailbox(ctx context.Context, db bun.IDB, account Account, name string) (*Mailbox, error) {
	mailbox := &Mailbox{}
	err := db.NewSelect().
		Model(mailbox).
		Where("account_id = ?", account.ID).
		Where("name = ?", strings.TrimSpace(name)).
		Scan(ctx)
	if err == nil {
		return mailbox, nil
	} else if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "could not query mailboxes")
	}

	created := NewMailbox(account, name)
	if err := CreateMailbox(ctx, db, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

func GetMailbox(ctx context.Context, db bun.IDB, id int64) (*Mailbox, error) {
	mailbox := &Mailbox{}
	err := db.NewSelect().
		Model(mailbox).
		Relation("Account").
		Where("mailbox.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrInvalidMailbox, "no mailbox with id %d", id)
		}
		return nil, errors.Wrap(err, "could not query mailbox")
	}
	return mailbox, nil
}
