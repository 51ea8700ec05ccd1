package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/ssh"
	"github.com/emersion/go-smtp"
	"github.com/ksdme/mailvault/internal/archive/backend"
	"github.com/ksdme/mailvault/internal/archive/ingest"
	"github.com/ksdme/mailvault/internal/archive/models"
	"github.com/ksdme/mailvault/internal/archive/tui"
	"github.com/ksdme/mailvault/internal/config"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/database"
	"github.com/ksdme/mailvault/internal/fetch"
	"github.com/ksdme/mailvault/internal/storage"
	"github.com/ksdme/mailvault/internal/tui/colors"
	"github.com/ksdme/mailvault/internal/utils"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type app struct {
	db  *bun.DB
	out io.Writer
}

// Dispatches to the selected subcommand and returns the exit code.
func (a *app) run(ctx context.Context, args Args) int {
	var err error
	switch {
	case args.Migrate != nil:
		err = database.Migrate(ctx, a.db)
	case args.AddAccount != nil:
		err = a.addAccount(ctx, *args.AddAccount)
	case args.AddMailbox != nil:
		err = a.addMailbox(ctx, *args.AddMailbox)
	case args.ListAccounts != nil:
		err = a.listAccounts(ctx, *args.ListAccounts)
	case args.Ingest != nil:
		err = a.ingest(ctx, *args.Ingest)
	case args.Fetch != nil:
		err = a.fetch(ctx, *args.Fetch)
	case args.List != nil:
		err = a.list(ctx, *args.List)
	case args.Conversation != nil:
		err = a.conversation(ctx, *args.Conversation)
	case args.Export != nil:
		err = a.export(ctx, *args.Export)
	case args.DeleteEmail != nil:
		err = models.DeleteEmail(ctx, a.db, args.DeleteEmail.Email)
	case args.GC != nil:
		err = a.gc(ctx)
	case args.Healthcheck != nil:
		return a.healthcheck(ctx)
	case args.Serve != nil:
		err = a.serve(ctx)
	case args.Browse != nil:
		err = a.browse(ctx, *args.Browse)
	}

	if err != nil {
		slog.Error("command failed", "err", err)
		return 1
	}
	return 0
}

func (a *app) ingestor() (*ingest.Ingestor, error) {
	shards, err := storage.NewAllocator(config.Storage.Root, config.Storage.MaxSubdirsPerShard)
	if err != nil {
		return nil, err
	}
	return ingest.NewIngestor(a.db, shards, ingest.DefaultSettings()), nil
}

func (a *app) addAccount(ctx context.Context, cmd AddAccountCmd) error {
	account := &core.Account{
		MailAddress:  cmd.Address,
		Owner:        cmd.Owner,
		Password:     cmd.Password,
		MailHost:     cmd.Host,
		MailHostPort: cmd.Port,
		Protocol:     strings.ToUpper(cmd.Protocol),
		Timeout:      cmd.Timeout,
		IsHealthy:    true,
	}
	if err := core.CreateAccount(ctx, a.db, account); err != nil {
		return err
	}

	inbox := core.NewMailbox(*account, core.InboxName)
	if err := core.CreateMailbox(ctx, a.db, &inbox); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "created account %d (%s), inbox %d\n", account.ID, account, inbox.ID)
	return nil
}

func (a *app) addMailbox(ctx context.Context, cmd AddMailboxCmd) error {
	account, err := core.GetAccount(ctx, a.db, cmd.Account)
	if err != nil {
		return err
	}

	mailbox := core.NewMailbox(*account, cmd.Name)
	mailbox.SaveToEML = mailbox.SaveToEML && !cmd.SkipEML
	mailbox.SaveAttachments = mailbox.SaveAttachments && !cmd.SkipAttachments
	mailbox.SaveImages = mailbox.SaveImages && !cmd.SkipImages
	mailbox.SaveToHTML = mailbox.SaveToHTML || cmd.HTML
	if err := core.CreateMailbox(ctx, a.db, &mailbox); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "created mailbox %d (%s)\n", mailbox.ID, mailbox.Name)
	return nil
}

func (a *app) listAccounts(ctx context.Context, cmd ListAccountsCmd) error {
	var accounts []core.Account
	query := a.db.NewSelect().Model(&accounts).Order("id ASC")
	if cmd.Owner != "" {
		query = query.Where("owner = ?", cmd.Owner)
	}
	if err := query.Scan(ctx); err != nil {
		return errors.Wrap(err, "could not list accounts")
	}

	var mailboxes []core.Mailbox
	if err := a.db.NewSelect().Model(&mailboxes).Order("id ASC").Scan(ctx); err != nil {
		return errors.Wrap(err, "could not list mailboxes")
	}

	rows := [][]string{}
	for _, account := range accounts {
		var names []string
		for _, mailbox := range mailboxes {
			if mailbox.AccountID == account.ID {
				names = append(names, fmt.Sprintf("%d:%s", mailbox.ID, mailbox.Name))
			}
		}

		health := "healthy"
		if !account.IsHealthy {
			health = "unhealthy"
		}

		rows = append(rows, []string{
			strconv.FormatInt(account.ID, 10),
			account.MailAddress,
			account.Owner,
			account.Protocol,
			health,
			strings.Join(names, " "),
		})
	}

	a.table([]string{"ID", "Address", "Owner", "Protocol", "Health", "Mailboxes"}, rows)
	return nil
}

func (a *app) ingest(ctx context.Context, cmd IngestCmd) error {
	mailbox, err := core.GetMailbox(ctx, a.db, cmd.Mailbox)
	if err != nil {
		return err
	}

	ingestor, err := a.ingestor()
	if err != nil {
		return err
	}

	var summary fetch.Summary
	for _, path := range cmd.Files {
		raws, err := readMessages(path)
		if err != nil {
			return err
		}

		for _, raw := range raws {
			result, err := ingestor.Ingest(ctx, raw, *mailbox, ingest.OptionsFor(*mailbox))
			if err != nil {
				slog.Error("could not ingest message", "file", path, "err", err)
				summary.Failed += 1
				continue
			}
			summary.Add(result.Status)
		}
	}

	fmt.Fprintf(a.out, "%s\n", summary)
	if summary.Failed > 0 {
		return errors.Errorf("%d messages could not be ingested", summary.Failed)
	}
	return nil
}

// Reads the raw messages of a file. Files ending in .mbox, or starting
// with an mbox separator, are split into their messages.
func readMessages(path string) ([][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read message file")
	}

	if strings.EqualFold(filepath.Ext(path), ".mbox") || bytes.HasPrefix(raw, []byte("From ")) {
		return ingest.SplitMbox(bytes.NewReader(raw))
	}
	return [][]byte{raw}, nil
}

func (a *app) fetch(ctx context.Context, cmd FetchCmd) error {
	account, err := core.GetAccount(ctx, a.db, cmd.Account)
	if err != nil {
		return err
	}

	ingestor, err := a.ingestor()
	if err != nil {
		return err
	}

	summary, err := fetch.Sync(ctx, a.db, ingestor, account, cmd.Criterion, cmd.Mailbox)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s\n", summary)
	return nil
}

func (a *app) list(ctx context.Context, cmd ListCmd) error {
	filter := models.EmailFilter{
		AccountID:     cmd.Account,
		MailboxID:     cmd.Mailbox,
		Subject:       cmd.Subject,
		Body:          cmd.Body,
		Correspondent: cmd.Correspondent,
		FavoritesOnly: cmd.Favorites,
		ExcludeSpam:   cmd.NoSpam,
		Limit:         cmd.Limit,
	}

	var err error
	if filter.Since, err = parseDay(cmd.Since); err != nil {
		return err
	}
	if filter.Until, err = parseDay(cmd.Until); err != nil {
		return err
	}

	emails, err := models.ListEmails(ctx, a.db, filter)
	if err != nil {
		return err
	}

	a.emails(emails)
	return nil
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	return day, errors.Wrapf(err, "bad date %q", value)
}

func (a *app) conversation(ctx context.Context, cmd ConversationCmd) error {
	email, err := models.GetEmail(ctx, a.db, cmd.Email)
	if err != nil {
		return err
	}

	conversation, err := models.FullConversation(ctx, a.db, *email)
	if err != nil {
		return err
	}

	a.emails(conversation)
	return nil
}

func (a *app) emails(emails []models.Email) {
	rows := [][]string{}
	for _, email := range emails {
		favorite := ""
		if email.IsFavorite {
			favorite = "★"
		}

		rows = append(rows, []string{
			strconv.FormatInt(email.ID, 10),
			email.Datetime.Local().Format(time.DateTime),
			favorite,
			email.Subject,
			utils.HumanSize(email.Datasize),
		})
	}

	a.table([]string{"ID", "Date", "", "Subject", "Size"}, rows)
}

func (a *app) table(headers []string, rows [][]string) {
	renderer := lipgloss.NewRenderer(a.out)
	palette := colors.ForRenderer(renderer)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(renderer.NewStyle().Foreground(palette.Muted)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := renderer.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true).Foreground(palette.Accent)
			}
			return style
		})

	fmt.Fprintln(a.out, t.Render())
}

func (a *app) export(ctx context.Context, cmd ExportCmd) error {
	var path string
	switch {
	case cmd.Email != 0 && cmd.Attachment != 0:
		return errors.New("export either an email or an attachment")

	case cmd.Email != 0:
		email, err := models.GetEmail(ctx, a.db, cmd.Email)
		if err != nil {
			return err
		}
		path = email.EMLPath

	case cmd.Attachment != 0:
		attachment, err := models.GetAttachment(ctx, a.db, cmd.Attachment)
		if err != nil {
			return err
		}
		path = attachment.FilePath

	default:
		return errors.New("nothing to export, pass --email or --attachment")
	}

	file, err := storage.Open(path)
	if err != nil {
		if errors.Is(err, storage.ErrNotStored) || errors.Is(err, storage.ErrFileMissing) {
			return errors.Wrap(models.ErrNotFound, err.Error())
		}
		return err
	}
	defer file.Close()

	out := a.out
	if cmd.Output != "" {
		target, err := os.Create(cmd.Output)
		if err != nil {
			return errors.Wrap(err, "could not create output file")
		}
		defer target.Close()
		out = target
	}

	if _, err := io.Copy(out, file); err != nil {
		return errors.Wrap(err, "could not export file")
	}
	return nil
}

func (a *app) gc(ctx context.Context) error {
	removed, err := models.CollectOrphans(ctx, a.db)
	fmt.Fprintf(a.out, "removed %d orphan files\n", removed)
	return err
}

func (a *app) healthcheck(ctx context.Context) int {
	shards, err := storage.NewAllocator(config.Storage.Root, config.Storage.MaxSubdirsPerShard)
	if err != nil {
		slog.Error("could not open storage", "err", err)
		return 1
	}

	healthy, err := shards.Healthcheck(ctx, a.db)
	if err != nil {
		slog.Error("could not run healthcheck", "err", err)
		return 1
	}
	if !healthy {
		fmt.Fprintln(a.out, "storage is unhealthy")
		return 2
	}

	fmt.Fprintln(a.out, "storage is healthy")
	return 0
}

// Runs the smtp intake and the ssh browser until either fails or the
// process is interrupted.
func (a *app) serve(ctx context.Context) error {
	if config.Core.DBMigrate {
		if err := database.Migrate(ctx, a.db); err != nil {
			return err
		}
		slog.Info("migrated database")
	}

	ingestor, err := a.ingestor()
	if err != nil {
		return err
	}

	mx := smtp.NewServer(backend.NewBackend(a.db, ingestor))
	mx.Addr = config.Mail.SMTPBindAddr
	mx.Domain = config.Mail.MXHost
	mx.MaxMessageBytes = config.Mail.MaxMessageBytes
	mx.AllowInsecureAuth = true

	sshd, err := utils.NewSSHServer(func(session ssh.Session, renderer *lipgloss.Renderer) tea.Model {
		return tui.NewModel(
			session.Context(),
			a.db,
			session.User(),
			renderer,
			colors.ForRenderer(renderer),
			tea.Quit,
		)
	})
	if err != nil {
		return errors.Wrap(err, "could not set up ssh server")
	}

	failed := make(chan error, 2)
	go func() {
		slog.Info("starting smtp server", "addr", mx.Addr)
		failed <- errors.Wrap(mx.ListenAndServe(), "smtp server stopped")
	}()
	go func() {
		slog.Info("starting ssh server", "addr", sshd.Addr)
		failed <- errors.Wrap(sshd.ListenAndServe(), "ssh server stopped")
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-failed:
	case <-done:
		slog.Info("shutting down")
	}

	shutdown, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := mx.Shutdown(shutdown); err != nil {
		slog.Error("could not stop smtp server", "err", err)
	}
	if err := sshd.Shutdown(shutdown); err != nil {
		slog.Error("could not stop ssh server", "err", err)
	}

	return err
}

func (a *app) browse(ctx context.Context, cmd BrowseCmd) error {
	renderer := lipgloss.DefaultRenderer()
	model := tui.NewModel(ctx, a.db, cmd.User, renderer, colors.ForRenderer(renderer), tea.Quit)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return errors.Wrap(err, "could not run browser")
}
