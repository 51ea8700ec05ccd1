package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ksdme/mailvault/internal/config"
	"github.com/ksdme/mailvault/internal/database"
	"github.com/ksdme/mailvault/internal/utils"
)

type MigrateCmd struct{}

type AddAccountCmd struct {
	Address  string        `arg:"--address,required" help:"mail address of the account"`
	Owner    string        `arg:"--owner,required" help:"user the account belongs to"`
	Password string        `arg:"--password,env:MAILVAULT_ACCOUNT_PASSWORD"`
	Host     string        `arg:"--host"`
	Port     int           `arg:"--port" help:"defaults to the protocol's port"`
	Protocol string        `arg:"--protocol" default:"IMAP_SSL" help:"IMAP, IMAP_SSL, POP3 or POP3_SSL"`
	Timeout  time.Duration `arg:"--timeout"`
}

type AddMailboxCmd struct {
	Account         int64  `arg:"--account,required"`
	Name            string `arg:"positional,required"`
	SkipEML         bool   `arg:"--skip-eml" help:"do not keep original messages"`
	SkipAttachments bool   `arg:"--skip-attachments"`
	SkipImages      bool   `arg:"--skip-images"`
	HTML            bool   `arg:"--html" help:"keep a prerendered html preview"`
}

type ListAccountsCmd struct {
	Owner string `arg:"--owner"`
}

type IngestCmd struct {
	Mailbox int64    `arg:"--mailbox,required"`
	Files   []string `arg:"positional,required" help:".eml or .mbox files"`
}

type FetchCmd struct {
	Account   int64  `arg:"--account,required"`
	Criterion string `arg:"--criterion" default:"ALL" help:"pop3 accounts only support ALL"`
	Mailbox   string `arg:"--mailbox" help:"only synchronize this mailbox"`
}

type ListCmd struct {
	Account       int64  `arg:"--account"`
	Mailbox       int64  `arg:"--mailbox"`
	Subject       string `arg:"--subject"`
	Body          string `arg:"--body"`
	Correspondent string `arg:"--correspondent"`
	Favorites     bool   `arg:"--favorites"`
	NoSpam        bool   `arg:"--no-spam"`
	Since         string `arg:"--since" help:"YYYY-MM-DD"`
	Until         string `arg:"--until" help:"YYYY-MM-DD"`
	Limit         int    `arg:"--limit" default:"50"`
}

type ConversationCmd struct {
	Email int64 `arg:"positional,required"`
}

type ExportCmd struct {
	Email      int64  `arg:"--email" help:"export the original message"`
	Attachment int64  `arg:"--attachment"`
	Output     string `arg:"--output,-o" help:"defaults to stdout"`
}

type DeleteEmailCmd struct {
	Email int64 `arg:"positional,required"`
}

type GCCmd struct{}

type HealthcheckCmd struct{}

type ServeCmd struct{}

type BrowseCmd struct {
	User string `arg:"--user,required"`
}

type Args struct {
	Migrate      *MigrateCmd      `arg:"subcommand:migrate" help:"create tables and indexes"`
	AddAccount   *AddAccountCmd   `arg:"subcommand:add-account"`
	AddMailbox   *AddMailboxCmd   `arg:"subcommand:add-mailbox"`
	ListAccounts *ListAccountsCmd `arg:"subcommand:list-accounts"`
	Ingest       *IngestCmd       `arg:"subcommand:ingest" help:"archive messages from files"`
	Fetch        *FetchCmd        `arg:"subcommand:fetch" help:"archive messages from an imap or pop3 account"`
	List         *ListCmd         `arg:"subcommand:list" help:"list archived emails"`
	Conversation *ConversationCmd `arg:"subcommand:conversation"`
	Export       *ExportCmd       `arg:"subcommand:export" help:"copy a stored file out of the archive"`
	DeleteEmail  *DeleteEmailCmd  `arg:"subcommand:delete-email"`
	GC           *GCCmd           `arg:"subcommand:gc" help:"remove queued orphan files"`
	Healthcheck  *HealthcheckCmd  `arg:"subcommand:healthcheck" help:"verify storage shards against disk"`
	Serve        *ServeCmd        `arg:"subcommand:serve" help:"run smtp intake and the ssh browser"`
	Browse       *BrowseCmd       `arg:"subcommand:browse" help:"browse the archive in this terminal"`
}

func main() {
	if config.Core.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	var args Args
	if code, consumed := utils.ParseArgs(os.Stdout, "mailvault", os.Args[1:], &args); consumed {
		os.Exit(code)
	}

	db, err := database.Open(config.Core.DBDriver, config.Core.DBURI)
	if err != nil {
		slog.Error("could not open database", "err", err)
		os.Exit(1)
	}

	app := &app{db: db, out: os.Stdout}
	code := app.run(context.Background(), args)
	db.Close()
	os.Exit(code)
}
