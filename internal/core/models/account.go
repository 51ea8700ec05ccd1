package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ksdme/mailvault/internal/utils"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	ErrInvalidAccount = errors.New("invalid account")
)

// The protocols an account can be fetched with.
const (
	ProtocolIMAP    = "IMAP"
	ProtocolIMAPSSL = "IMAP_SSL"
	ProtocolPOP3    = "POP3"
	ProtocolPOP3SSL = "POP3_SSL"
)

// A remote mail account owned by a user. Mails fetched from or delivered
// to it are archived under its mailboxes.
type Account struct {
	ID          int64  `bun:",pk,autoincrement"`
	MailAddress string `bun:",notnull,unique:accounts_address_owner"`
	Owner       string `bun:",notnull,unique:accounts_address_owner"`

	Password     string `bun:",notnull"`
	MailHost     string `bun:",notnull"`
	MailHostPort int    `bun:",notnull"`
	Protocol     string `bun:",notnull"`
	Timeout      time.Duration

	IsHealthy  bool `bun:",notnull"`
	IsFavorite bool `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s (%s)", a.MailAddress, a.Protocol)
}

// Host and port formatted for dialing.
func (a Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.MailHost, a.MailHostPort)
}

func CreateAccount(ctx context.Context, db bun.IDB, account *Account) error {
	account.MailAddress = strings.ToLower(strings.TrimSpace(account.MailAddress))
	if account.MailAddress == "" || !strings.Contains(account.MailAddress, "@") {
		return errors.Wrap(ErrInvalidAccount, "a mail address is required")
	}

	if account.Owner == "" {
		return errors.Wrap(ErrInvalidAccount, "an owning user is required")
	}

	switch account.Protocol {
	case ProtocolIMAP, ProtocolIMAPSSL, ProtocolPOP3, ProtocolPOP3SSL:
	case "":
		account.Protocol = ProtocolIMAPSSL
	default:
		return errors.Wrapf(ErrInvalidAccount, "unknown protocol %q", account.Protocol)
	}

	if account.MailHostPort == 0 {
		account.MailHostPort = defaultPort(account.Protocol)
	}

	if _, err := db.NewInsert().Model(account).Exec(ctx); err != nil {
		if utils.IsUniqueConstraintErr(err) {
			return errors.Wrap(ErrInvalidAccount, "an account with this address already exists")
		}
		return errors.Wrap(err, "could not create account")
	}

	return nil
}

func defaultPort(protocol string) int {
	switch protocol {
	case ProtocolIMAP:
		return 143
	case ProtocolPOP3:
		return 110
	case ProtocolPOP3SSL:
		return 995
	default:
		return 993
	}
}

// Finds the accounts receiving mail on an address.
func GetAccountsByAddress(ctx context.Context, db bun.IDB, address string) ([]Account, error) {
	var accounts []Account
	err := db.NewSelect().
		Model(&accounts).
		Where("mail_address = ?", strings.ToLower(strings.TrimSpace(address))).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not query accounts")
	}
	return accounts, nil
}

func GetAccount(ctx context.Context, db bun.IDB, id int64) (*Account, error) {
	account := &Account{}
	if err := db.NewSelect().Model(account).Where("id = ?", id).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrInvalidAccount, "no account with id %d", id)
		}
		return nil, errors.Wrap(err, "could not query account")
	}
	return account, nil
}

// Records the outcome of the last connection attempt.
func MarkAccountHealth(ctx context.Context, db bun.IDB, account *Account, healthy bool) error {
	account.IsHealthy = healthy
	account.UpdatedAt = time.Now()

	_, err := db.NewUpdate().
		Model(account).
		Column("is_healthy", "updated_at").
		WherePK().
		Exec(ctx)
	return errors.Wrap(err, "could not update account health")
}
