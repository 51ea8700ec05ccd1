package backend

import (
	"context"
	"io"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/ksdme/mailvault/internal/archive/ingest"
	"github.com/ksdme/mailvault/internal/config"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	errUnknownRecipient = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "No such recipient here",
	}
	errTooBig = &smtp.SMTPError{
		Code:         552,
		EnhancedCode: smtp.EnhancedCode{5, 3, 4},
		Message:      "Message exceeds the maximum size",
	}
	errNotArchived = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Could not archive the message, try again later",
	}
)

func NewBackend(db *bun.DB, ingestor *ingest.Ingestor) *backend {
	return &backend{db: db, ingestor: ingestor}
}

// The SMTP server backend. Every accepted message is archived into the
// inbox of each recipient account. It does not relay.
type backend struct {
	db       *bun.DB
	ingestor *ingest.Ingestor
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{db: b.db, ingestor: b.ingestor}, nil
}

// A session on the backend.
type session struct {
	db       *bun.DB
	ingestor *ingest.Ingestor

	from      *mail.Address
	mailboxes []core.Mailbox
}

// Handles the MAIL command. The null sender of bounces is accepted.
func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	slog.Debug("> MAIL", "from", from)
	if from == "" {
		return nil
	}

	address, err := mail.ParseAddress(from)
	if err != nil {
		return errors.Wrap(err, "could not parse from address")
	}
	s.from = address

	return nil
}

// Handles the RCPT command. The address has to belong to at least one
// account, its inbox is created on first delivery.
func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	slog.Debug("> RCPT", "to", to)

	recipient, err := mail.ParseAddress(to)
	if err != nil {
		return errors.Wrap(err, "could not parse recipient address")
	}

	ctx := context.Background()
	accounts, err := core.GetAccountsByAddress(ctx, s.db, recipient.Address)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		slog.Debug("rejecting unknown recipient", "to", recipient.Address)
		return errUnknownRecipient
	}

	for _, account := range accounts {
		mailbox, err := core.GetOrCreateMailbox(ctx, s.db, account, core.InboxName)
		if err != nil {
			return errors.Wrap(err, "could not find an inbox")
		}

		if !s.hasMailbox(mailbox.ID) {
			slog.Debug("found matching mailbox", "mailbox", mailbox.ID)
			s.mailboxes = append(s.mailboxes, *mailbox)
		}
	}

	return nil
}

func (s *session) hasMailbox(id int64) bool {
	for _, mailbox := range s.mailboxes {
		if mailbox.ID == id {
			return true
		}
	}
	return false
}

// Handles the DATA command. The message is archived once per recipient
// mailbox and is only refused when none of them could take it.
func (s *session) Data(r io.Reader) error {
	limit := config.Mail.MaxMessageBytes
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return errors.Wrap(err, "could not read message")
	}
	if int64(len(raw)) > limit {
		return errTooBig
	}

	ctx := context.Background()
	failed := 0
	for _, mailbox := range s.mailboxes {
		result, err := s.ingestor.Ingest(ctx, raw, mailbox, ingest.OptionsFor(mailbox))
		if err != nil {
			slog.Info(
				"could not archive message into mailbox",
				"from", s.sender(),
				"mailbox", mailbox.ID,
				"err", err,
			)
			failed += 1
			continue
		}

		slog.Debug(
			"delivered message to mailbox",
			"from", s.sender(),
			"mailbox", mailbox.ID,
			"status", result.Status,
		)
	}

	if len(s.mailboxes) > 0 && failed == len(s.mailboxes) {
		return errNotArchived
	}
	return nil
}

func (s *session) sender() string {
	if s.from == nil {
		return ""
	}
	return strings.ToLower(s.from.Address)
}

// Perform clean up on this session.
func (s *session) Logout() error {
	return nil
}

// Handles the RSET command. It aborts the current mail transaction so
// the connection can be reused for another message.
func (s *session) Reset() {
	var mailboxes []core.Mailbox
	s.mailboxes = mailboxes
	s.from = nil
}
