package fetch

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/config"
	"github.com/pkg/errors"
)

var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// Where messages of an account are fetched from.
type Source interface {
	Mailboxes() ([]string, error)
	Fetch(mailbox string, criteria *imap.SearchCriteria) ([][]byte, error)
	Close() error
}

// An authenticated IMAP session for one account.
type Fetcher struct {
	client *client.Client
}

var _ Source = (*Fetcher)(nil)

// Connects and logs into the account's server with a client for its
// protocol.
func Dial(account core.Account) (Source, error) {
	timeout := account.Timeout
	if timeout == 0 {
		timeout = config.Mail.FetchTimeout
	}

	var source Source
	var err error
	switch account.Protocol {
	case core.ProtocolIMAP, core.ProtocolIMAPSSL:
		source, err = dialIMAP(account, timeout)
	case core.ProtocolPOP3, core.ProtocolPOP3SSL:
		source, err = dialPOP3(account, timeout)
	default:
		return nil, errors.Wrapf(ErrUnsupportedProtocol, "%s", account.Protocol)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("connected to mail server", "account", account.ID, "addr", account.Addr(), "protocol", account.Protocol)
	return source, nil
}

func dialIMAP(account core.Account, timeout time.Duration) (*Fetcher, error) {
	dialer := &net.Dialer{Timeout: timeout}

	var c *client.Client
	var err error
	if account.Protocol == core.ProtocolIMAPSSL {
		c, err = client.DialWithDialerTLS(dialer, account.Addr(), &tls.Config{ServerName: account.MailHost})
	} else {
		c, err = client.DialWithDialer(dialer, account.Addr())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", account.Addr())
	}
	c.Timeout = timeout

	if err := c.Login(account.MailAddress, account.Password); err != nil {
		c.Logout()
		return nil, errors.Wrapf(err, "could not log in as %s", account.MailAddress)
	}

	return &Fetcher{client: c}, nil
}

// Names of every selectable mailbox.
func (f *Fetcher) Mailboxes() ([]string, error) {
	infos := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.client.List("", "*", infos)
	}()

	var names []string
	for info := range infos {
		selectable := true
		for _, attribute := range info.Attributes {
			if attribute == imap.NoSelectAttr {
				selectable = false
			}
		}
		if selectable {
			names = append(names, info.Name)
		}
	}

	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "could not list mailboxes")
	}
	return names, nil
}

// Raw bytes of every message in the mailbox matching the criteria. The
// mailbox is opened read-only and bodies are peeked so flags stay as
// they are.
func (f *Fetcher) Fetch(mailbox string, criteria *imap.SearchCriteria) ([][]byte, error) {
	if _, err := f.client.Select(mailbox, true); err != nil {
		return nil, errors.Wrapf(err, "could not select %s", mailbox)
	}

	uids, err := f.client.UidSearch(criteria)
	if err != nil {
		return nil, errors.Wrapf(err, "could not search %s", mailbox)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.client.UidFetch(set, items, messages)
	}()

	var raws [][]byte
	for message := range messages {
		body := message.GetBody(section)
		if body == nil {
			slog.Warn("server returned no body", "mailbox", mailbox, "uid", message.Uid)
			continue
		}

		raw, err := io.ReadAll(body)
		if err != nil {
			slog.Warn("could not read body", "mailbox", mailbox, "uid", message.Uid, "err", err)
			continue
		}
		raws = append(raws, raw)
	}

	if err := <-done; err != nil {
		return nil, errors.Wrapf(err, "could not fetch from %s", mailbox)
	}

	slog.Debug("fetched messages", "mailbox", mailbox, "matched", len(uids), "fetched", len(raws))
	return raws, nil
}

func (f *Fetcher) Close() error {
	return f.client.Logout()
}
