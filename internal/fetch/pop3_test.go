package fetch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A single user POP3 server holding a fixed maildrop.
type maildrop struct {
	user     string
	password string
	messages []string

	lock     sync.Mutex
	commands []string
}

func (m *maildrop) serve(t *testing.T) (string, int) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go m.session(conn)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (m *maildrop) session(conn net.Conn) {
	defer conn.Close()

	reply := func(format string, args ...any) {
		fmt.Fprintf(conn, format+"\r\n", args...)
	}
	reply("+OK maildrop ready")

	user := ""
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		command := strings.ToUpper(fields[0])
		m.lock.Lock()
		m.commands = append(m.commands, command)
		m.lock.Unlock()

		switch {
		case command == "USER" && len(fields) == 2:
			user = fields[1]
			reply("+OK")
		case command == "PASS" && len(fields) == 2:
			if user != m.user || fields[1] != m.password {
				reply("-ERR invalid credentials")
				continue
			}
			reply("+OK logged in")
		case command == "NOOP":
			reply("+OK")
		case command == "STAT":
			reply("+OK %d %d", len(m.messages), m.size())
		case command == "LIST" && len(fields) == 1:
			reply("+OK %d messages", len(m.messages))
			for index, message := range m.messages {
				reply("%d %d", index+1, len(crlf(message)))
			}
			reply(".")
		case command == "RETR" && len(fields) == 2:
			var number int
			if _, err := fmt.Sscanf(fields[1], "%d", &number); err != nil || number < 1 || number > len(m.messages) {
				reply("-ERR no such message")
				continue
			}
			message := crlf(m.messages[number-1])
			reply("+OK %d octets", len(message))
			fmt.Fprint(conn, message)
			reply(".")
		case command == "QUIT":
			reply("+OK bye")
			return
		default:
			reply("-ERR unknown command")
		}
	}
}

func (m *maildrop) size() int {
	total := 0
	for _, message := range m.messages {
		total += len(crlf(message))
	}
	return total
}

func (m *maildrop) received(command string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, received := range m.commands {
		if received == command {
			return true
		}
	}
	return false
}

func crlf(message string) string {
	return strings.ReplaceAll(message, "\n", "\r\n")
}

func TestSyncPOP3(t *testing.T) {
	db, ingestor, account := setup(t)
	ctx := context.Background()

	server := &maildrop{
		user:     "bob@example.com",
		password: "secret",
		messages: []string{
			"Message-ID: <1@x>\nSubject: one\n\nbody\n",
			"Message-ID: <2@x>\nSubject: two\n\nbody\n",
		},
	}
	host, port := server.serve(t)

	account.Protocol = core.ProtocolPOP3
	account.MailHost = host
	account.MailHostPort = port
	account.Password = "secret"

	summary, err := Sync(ctx, db, ingestor, account, CriterionAll, "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 2}, summary)
	assert.True(t, server.received("QUIT"))
	assert.False(t, server.received("DELE"))

	mailbox, err := core.GetOrCreateMailbox(ctx, db, *account, core.InboxName)
	require.NoError(t, err)
	assert.Equal(t, core.InboxName, mailbox.Name)

	stored, err := core.GetAccount(ctx, db, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsHealthy)

	// The maildrop is left as it was, a second run only finds duplicates.
	summary, err = Sync(ctx, db, ingestor, account, "", "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Duplicates: 2}, summary)
}

func TestSyncPOP3RejectsSearches(t *testing.T) {
	db, ingestor, account := setup(t)
	account.Protocol = core.ProtocolPOP3SSL

	_, err := Sync(context.Background(), db, ingestor, account, CriterionUnseen, "")
	assert.ErrorIs(t, err, ErrUnsupportedCriterion)
}

func TestSyncPOP3WrongPassword(t *testing.T) {
	db, ingestor, account := setup(t)
	ctx := context.Background()

	server := &maildrop{user: "bob@example.com", password: "secret"}
	host, port := server.serve(t)

	account.Protocol = core.ProtocolPOP3
	account.MailHost = host
	account.MailHostPort = port
	account.Password = "guess"

	_, err := Sync(ctx, db, ingestor, account, CriterionAll, "")
	assert.Error(t, err)

	stored, err := core.GetAccount(ctx, db, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsHealthy)
}

func TestPOP3FetcherOnlyHasAnInbox(t *testing.T) {
	server := &maildrop{
		user:     "bob@example.com",
		password: "secret",
		messages: []string{"Message-ID: <1@x>\n\nbody\n"},
	}
	host, port := server.serve(t)

	fetcher, err := dialPOP3(core.Account{
		MailAddress:  "bob@example.com",
		Password:     "secret",
		MailHost:     host,
		MailHostPort: port,
		Protocol:     core.ProtocolPOP3,
	}, 0)
	require.NoError(t, err)
	defer fetcher.Close()

	names, err := fetcher.Mailboxes()
	require.NoError(t, err)
	assert.Equal(t, []string{core.InboxName}, names)

	criteria, err := Criterion(CriterionAll, time.Now())
	require.NoError(t, err)

	raws, err := fetcher.Fetch(core.InboxName, criteria)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, crlf("Message-ID: <1@x>\n\nbody\n"), string(raws[0]))

	_, err = fetcher.Fetch("Sent", criteria)
	assert.Error(t, err)

	criteria, err = Criterion(CriterionFlagged, time.Now())
	require.NoError(t, err)
	_, err = fetcher.Fetch(core.InboxName, criteria)
	assert.ErrorIs(t, err, ErrUnsupportedCriterion)
}
