package fetch

import (
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/knadh/go-pop3"
	"github.com/pkg/errors"
)

// An authenticated POP3 session for one account. The maildrop has no
// folders and is exposed as the inbox, and since it cannot be searched
// only the criterion matching every message is served.
type POP3Fetcher struct {
	conn *pop3.Conn
}

var _ Source = (*POP3Fetcher)(nil)

func dialPOP3(account core.Account, timeout time.Duration) (*POP3Fetcher, error) {
	client := pop3.New(pop3.Opt{
		Host:        account.MailHost,
		Port:        account.MailHostPort,
		TLSEnabled:  account.Protocol == core.ProtocolPOP3SSL,
		DialTimeout: timeout,
	})

	conn, err := client.NewConn()
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", account.Addr())
	}

	if err := conn.Auth(account.MailAddress, account.Password); err != nil {
		conn.Quit()
		return nil, errors.Wrapf(err, "could not log in as %s", account.MailAddress)
	}

	return &POP3Fetcher{conn: conn}, nil
}

func (f *POP3Fetcher) Mailboxes() ([]string, error) {
	return []string{core.InboxName}, nil
}

// Raw bytes of every message in the maildrop. Messages are retrieved,
// never deleted.
func (f *POP3Fetcher) Fetch(mailbox string, criteria *imap.SearchCriteria) ([][]byte, error) {
	if mailbox != core.InboxName {
		return nil, errors.Errorf("pop3 has no mailbox named %q", mailbox)
	}
	if !SelectsEverything(criteria) {
		return nil, errors.Wrap(ErrUnsupportedCriterion, "pop3 can only fetch every message")
	}

	messages, err := f.conn.List(0)
	if err != nil {
		return nil, errors.Wrap(err, "could not list maildrop")
	}

	raws := make([][]byte, 0, len(messages))
	for _, message := range messages {
		raw, err := f.conn.RetrRaw(message.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "could not retrieve message %d", message.ID)
		}
		raws = append(raws, raw.Bytes())
	}

	slog.Debug("fetched messages", "mailbox", mailbox, "listed", len(messages), "fetched", len(raws))
	return raws, nil
}

func (f *POP3Fetcher) Close() error {
	return f.conn.Quit()
}
