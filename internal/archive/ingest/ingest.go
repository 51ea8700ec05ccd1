package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ksdme/mailvault/internal/archive/events"
	"github.com/ksdme/mailvault/internal/archive/models"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/storage"
	"github.com/ksdme/mailvault/internal/utils"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	ErrPersist = errors.New("could not persist email")

	errDuplicate = errors.New("duplicate email")
)

// Returned when the archive transaction fails. It matches ErrPersist
// and unwraps to the underlying cause.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPersist, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func (e *PersistError) Is(target error) bool {
	return target == ErrPersist
}

type Status int

const (
	Created Status = iota
	SkippedDuplicate
	SkippedSpam
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case SkippedDuplicate:
		return "duplicate"
	case SkippedSpam:
		return "spam"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// The outcome of an ingestion. Email is only set when it was created.
type Result struct {
	Status Status
	Email  *models.Email
}

// Turns raw messages into archived emails.
type Ingestor struct {
	db       *bun.DB
	shards   *storage.Allocator
	settings Settings

	Now func() time.Time
}

func NewIngestor(db *bun.DB, shards *storage.Allocator, settings Settings) *Ingestor {
	return &Ingestor{
		db:       db,
		shards:   shards,
		settings: settings,
		Now:      time.Now,
	}
}

// Archives a raw message into the mailbox. Duplicates of a message
// already archived for the account and spam, when discarded, are skipped
// without side effects. A database failure aborts the whole ingestion,
// the returned error wraps ErrPersist and keeps the cause.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, mailbox core.Mailbox, options Options) (Result, error) {
	parsed, err := Parse(raw, i.settings, i.Now())
	if err != nil {
		return Result{}, err
	}

	logger := slog.With("message", parsed.MessageID, "mailbox", mailbox.ID)

	exists, err := i.db.NewSelect().
		Model((*models.Email)(nil)).
		Where("message_id = ?", parsed.MessageID).
		Where("account_id = ?", mailbox.AccountID).
		Exists(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "could not check for duplicates")
	}
	if exists {
		logger.Debug("skipping duplicate email")
		return Result{Status: SkippedDuplicate}, nil
	}

	if i.settings.DiscardSpam && parsed.Spam {
		logger.Debug("skipping spam email")
		return Result{Status: SkippedSpam}, nil
	}

	account, err := core.GetAccount(ctx, i.db, mailbox.AccountID)
	if err != nil {
		return Result{}, err
	}

	written := &writes{}
	var email *models.Email
	err = i.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		email, err = i.persist(ctx, tx, written, parsed, raw, *account, mailbox, options)
		return err
	})
	if err != nil {
		written.undo()
		return failed(logger, err)
	}

	logger.Info(
		"archived email",
		"email", email.ID,
		"attachments", len(email.Attachments),
		"stored", len(written.files),
	)
	events.MailboxContentsUpdatedSignal.Emit(mailbox.AccountID, mailbox.ID)

	return Result{Status: Created, Email: email}, nil
}

// Maps a failed archive transaction to its outcome. Losing the insert
// to a concurrent ingestion of the same message is not an error.
func failed(logger *slog.Logger, err error) (Result, error) {
	if errors.Is(err, errDuplicate) {
		logger.Debug("lost an ingestion race, skipping duplicate email")
		return Result{Status: SkippedDuplicate}, nil
	}

	logger.Error("could not ingest email", "err", err)
	return Result{}, &PersistError{Err: err}
}

func (i *Ingestor) persist(
	ctx context.Context,
	tx bun.Tx,
	written *writes,
	parsed *Parsed,
	raw []byte,
	account core.Account,
	mailbox core.Mailbox,
	options Options,
) (*models.Email, error) {
	email := &models.Email{
		MessageID:     parsed.MessageID,
		AccountID:     mailbox.AccountID,
		MailboxID:     mailbox.ID,
		Datetime:      parsed.Date,
		Subject:       parsed.Subject,
		PlainBodytext: parsed.PlainBody,
		HTMLBodytext:  parsed.HTMLBody,
		Datasize:      parsed.Datasize,
		Headers:       parsed.Headers,
		XSpam:         parsed.XSpam,
	}

	if parsed.InReplyTo != "" {
		parent, err := findEmailID(ctx, tx, account.ID, parsed.InReplyTo)
		if err != nil {
			return nil, err
		}
		email.InReplyToID = parent
	}

	if parsed.MailingList != nil {
		list, err := getOrCreateMailingList(ctx, tx, parsed.MailingList)
		if err != nil {
			return nil, err
		}
		email.MailingListID = list.ID
	}

	if _, err := tx.NewInsert().Model(email).Exec(ctx); err != nil {
		if utils.IsUniqueConstraintErr(err) {
			return nil, errDuplicate
		}
		return nil, errors.Wrap(err, "could not insert email")
	}

	if options.KeepOriginals {
		path, err := i.store(ctx, tx, written, email.MessageID, storage.CleanFilename(email.MessageID)+".eml", raw)
		if err != nil {
			return nil, err
		}
		email.EMLPath = path
	}

	if options.KeepPreview {
		preview, err := RenderPreview(parsed)
		if err != nil {
			slog.Warn("could not render preview", "message", email.MessageID, "err", err)
		} else {
			path, err := i.store(ctx, tx, written, email.MessageID, storage.CleanFilename(email.MessageID)+".html", preview)
			if err != nil {
				return nil, err
			}
			email.PreviewPath = path
		}
	}

	if email.EMLPath != "" || email.PreviewPath != "" {
		_, err := tx.NewUpdate().
			Model(email).
			Column("eml_path", "preview_path", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not record stored paths")
		}
	}

	for _, mention := range parsed.Mentions {
		correspondent, err := getOrCreateCorrespondent(ctx, tx, account.Owner, mention)
		if err != nil {
			return nil, err
		}

		_, err = tx.NewInsert().
			Model(&models.EmailCorrespondent{
				EmailID:         email.ID,
				CorrespondentID: correspondent.ID,
				Mention:         mention.Mention,
			}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not link correspondent")
		}
	}

	for _, reference := range parsed.References {
		referenced, err := findEmailID(ctx, tx, account.ID, reference)
		if err != nil {
			return nil, err
		}
		if referenced == 0 {
			continue
		}

		_, err = tx.NewInsert().
			Model(&models.EmailReference{EmailID: email.ID, ReferencedID: referenced}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not link reference")
		}
	}

	used := map[string]bool{}
	for index, part := range parsed.Attachments {
		attachment := models.Attachment{
			FileName:           part.FileName,
			ContentDisposition: part.Disposition,
			ContentID:          part.ContentID,
			ContentMaintype:    part.Maintype,
			ContentSubtype:     part.Subtype,
			Datasize:           int64(len(part.Payload)),
			EmailID:            email.ID,
		}

		keep := options.KeepAttachments
		if part.IsImage() {
			keep = options.KeepImages
		}

		if keep && part.Eligible {
			base := storage.ValidFilename(part.FileName)
			name := base
			for prefix := index; used[strings.ToLower(name)]; prefix++ {
				name = fmt.Sprintf("%d_%s", prefix, base)
			}
			used[strings.ToLower(name)] = true

			path, err := i.store(ctx, tx, written, email.MessageID, name, part.Payload)
			if err != nil {
				return nil, err
			}
			attachment.FilePath = path
		}

		if _, err := tx.NewInsert().Model(&attachment).Exec(ctx); err != nil {
			return nil, errors.Wrap(err, "could not insert attachment")
		}
		email.Attachments = append(email.Attachments, attachment)
	}

	return email, nil
}

// Writes a blob into the message's directory and returns its path. The
// directory is allocated with the first blob and shared by the rest. A
// failed write is logged and yields an empty path, only allocation
// failures abort the ingestion.
func (i *Ingestor) store(
	ctx context.Context,
	tx bun.Tx,
	written *writes,
	messageID string,
	filename string,
	payload []byte,
) (string, error) {
	if written.directory == "" {
		allocation, err := i.shards.Allocate(ctx, tx, messageID)
		if err != nil {
			return "", err
		}

		written.directory = allocation.Path
		if allocation.Created {
			written.dirs = append(written.dirs, allocation.Path)
		}
		written.shards = append(written.shards, allocation.Shards...)
	}

	path := filepath.Join(written.directory, filename)
	stored, err := storage.WriteOnce(path, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(payload))
		return err
	})
	if err != nil {
		slog.Error("could not store file", "path", path, "err", err)
		return "", nil
	}
	if stored {
		written.files = append(written.files, path)
	}

	return path, nil
}

// Files and directories created by one ingestion, so they can be taken
// back when its transaction does not commit.
type writes struct {
	directory string

	files  []string
	dirs   []string
	shards []string
}

func (w *writes) undo() {
	for _, file := range w.files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			slog.Error("could not remove file of failed ingestion", "path", file, "err", err)
		}
	}

	// The shard rows and counter increments were rolled back with the
	// transaction, their directories would otherwise outlive them.
	dirs := append(append([]string{}, w.shards...), w.dirs...)
	for index := len(dirs) - 1; index >= 0; index-- {
		if err := os.Remove(dirs[index]); err != nil && !os.IsNotExist(err) {
			slog.Error("could not remove directory of failed ingestion", "path", dirs[index], "err", err)
		}
	}
}

func findEmailID(ctx context.Context, db bun.IDB, accountID int64, messageID string) (int64, error) {
	var id int64
	err := db.NewSelect().
		Model((*models.Email)(nil)).
		Column("id").
		Where("message_id = ?", messageID).
		Where("account_id = ?", accountID).
		Limit(1).
		Scan(ctx, &id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, errors.Wrap(err, "could not look up email")
}

func getOrCreateMailingList(ctx context.Context, db bun.IDB, parsed *ParsedMailingList) (*models.MailingList, error) {
	list := &models.MailingList{}
	err := db.NewSelect().Model(list).Where("list_id = ?", parsed.ListID).Scan(ctx)
	if err == nil {
		return list, nil
	} else if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "could not query mailing list")
	}

	list = &models.MailingList{
		ListID:      parsed.ListID,
		Owner:       parsed.Owner,
		Subscribe:   parsed.Subscribe,
		Unsubscribe: parsed.Unsubscribe,
		Post:        parsed.Post,
		Help:        parsed.Help,
		Archive:     parsed.Archive,
	}
	if _, err := db.NewInsert().Model(list).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "could not create mailing list")
	}
	return list, nil
}

func getOrCreateCorrespondent(ctx context.Context, db bun.IDB, owner string, mention ParsedMention) (*models.Correspondent, error) {
	correspondent := &models.Correspondent{}
	err := db.NewSelect().
		Model(correspondent).
		Where("address = ?", mention.Address).
		Where("owner = ?", owner).
		Scan(ctx)
	if err == nil {
		return correspondent, nil
	} else if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "could not query correspondent")
	}

	correspondent = &models.Correspondent{
		Address: mention.Address,
		Owner:   owner,
		Name:    mention.Name,
	}
	if _, err := db.NewInsert().Model(correspondent).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "could not create correspondent")
	}
	return correspondent, nil
}
