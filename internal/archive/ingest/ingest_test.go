package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksdme/mailvault/internal/archive/models"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/database/dbtest"
	"github.com/ksdme/mailvault/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var everything = Options{
	KeepOriginals:   true,
	KeepAttachments: true,
	KeepImages:      true,
	KeepPreview:     true,
}

type fixture struct {
	db       *bun.DB
	root     string
	ingestor *Ingestor
	account  core.Account
	mailbox  core.Mailbox
	now      time.Time
}

func setup(t *testing.T) *fixture {
	ctx := context.Background()
	db := dbtest.New(t)
	root := t.TempDir()

	allocator, err := storage.NewAllocator(root, 1000)
	require.NoError(t, err)

	account := core.Account{
		MailAddress: "bob@example.com",
		Owner:       "bob",
		Password:    "secret",
		MailHost:    "imap.example.com",
	}
	require.NoError(t, core.CreateAccount(ctx, db, &account))

	mailbox := core.NewMailbox(account, core.InboxName)
	require.NoError(t, core.CreateMailbox(ctx, db, &mailbox))

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ingestor := NewIngestor(db, allocator, testSettings())
	ingestor.Now = func() time.Time { return now }

	return &fixture{
		db:       db,
		root:     root,
		ingestor: ingestor,
		account:  account,
		mailbox:  mailbox,
		now:      now,
	}
}

func (f *fixture) count(t *testing.T, model any) int {
	count, err := f.db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return count
}

func TestIngestReport(t *testing.T) {
	f := setup(t)

	result, err := f.ingestor.Ingest(context.Background(), reportMessage, f.mailbox, everything)
	require.NoError(t, err)
	require.Equal(t, Created, result.Status)

	email := result.Email
	require.NotNil(t, email)
	assert.NotZero(t, email.ID)
	assert.Equal(t, "<abc@x>", email.MessageID)
	assert.Equal(t, "hello", email.PlainBodytext)
	assert.Equal(t, f.now, email.Datetime)

	directory := filepath.Join(f.root, "0", "<abc@x>")
	assert.Equal(t, filepath.Join(directory, "<abc@x>.eml"), email.EMLPath)
	assert.Equal(t, filepath.Join(directory, "<abc@x>.html"), email.PreviewPath)

	original, err := os.ReadFile(email.EMLPath)
	require.NoError(t, err)
	assert.Equal(t, reportMessage, original)

	preview, err := os.ReadFile(email.PreviewPath)
	require.NoError(t, err)
	assert.Contains(t, string(preview), "hello")

	stored, err := models.GetEmail(context.Background(), f.db, email.ID)
	require.NoError(t, err)
	require.Len(t, stored.Attachments, 1)

	attachment := stored.Attachments[0]
	assert.Equal(t, "f.pdf", attachment.FileName)
	assert.Equal(t, "application/pdf", attachment.ContentType())
	assert.Equal(t, filepath.Join(directory, "f.pdf"), attachment.FilePath)
	assert.Equal(t, int64(9), attachment.Datasize)

	payload, err := os.ReadFile(attachment.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4\n", string(payload))

	require.NotNil(t, stored.MailingList)
	assert.Equal(t, "<reports.example.com>", stored.MailingList.ListID)

	mentions, err := models.GetEmailCorrespondents(context.Background(), f.db, email.ID)
	require.NoError(t, err)
	assert.Len(t, mentions, 3)
	assert.Equal(t, 3, f.count(t, (*models.Correspondent)(nil)))

	var shard storage.StorageShard
	require.NoError(t, f.db.NewSelect().Model(&shard).Where("is_current = ?", true).Scan(context.Background()))
	assert.Equal(t, 1, shard.SubdirectoryCount)
}

func TestIngestIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.NoError(t, err)
	require.Equal(t, Created, first.Status)

	counts := func() []int {
		return []int{
			f.count(t, (*models.Email)(nil)),
			f.count(t, (*models.Attachment)(nil)),
			f.count(t, (*models.Correspondent)(nil)),
			f.count(t, (*models.EmailCorrespondent)(nil)),
			f.count(t, (*models.MailingList)(nil)),
		}
	}
	before := counts()

	second, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, second.Status)
	assert.Nil(t, second.Email)
	assert.Equal(t, before, counts())

	// Another mailbox of the same account does not archive it again.
	other := core.NewMailbox(f.account, "Archive")
	require.NoError(t, core.CreateMailbox(ctx, f.db, &other))

	third, err := f.ingestor.Ingest(ctx, reportMessage, other, everything)
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, third.Status)
	assert.Equal(t, before, counts())
}

func TestIngestSameMessageForAnotherAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.NoError(t, err)

	account := core.Account{MailAddress: "carol@example.com", Owner: "carol", MailHost: "imap.example.com"}
	require.NoError(t, core.CreateAccount(ctx, f.db, &account))
	mailbox := core.NewMailbox(account, core.InboxName)
	require.NoError(t, core.CreateMailbox(ctx, f.db, &mailbox))

	second, err := f.ingestor.Ingest(ctx, reportMessage, mailbox, everything)
	require.NoError(t, err)
	require.Equal(t, Created, second.Status)

	// Both share the message's directory and its files.
	assert.Equal(t, first.Email.EMLPath, second.Email.EMLPath)
	assert.Equal(t, 2, f.count(t, (*models.Email)(nil)))

	var shard storage.StorageShard
	require.NoError(t, f.db.NewSelect().Model(&shard).Where("is_current = ?", true).Scan(ctx))
	assert.Equal(t, 1, shard.SubdirectoryCount)

	// Deleting one keeps the files the other still points at.
	require.NoError(t, models.DeleteEmail(ctx, f.db, first.Email.ID))
	assert.FileExists(t, second.Email.EMLPath)
}

func TestIngestDiscardsSpam(t *testing.T) {
	f := setup(t)
	raw := crlf("Message-ID: <spam@x>\nX-Spam-Flag: YES\nSubject: buy\n\nnow\n")

	result, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, everything)
	require.NoError(t, err)
	assert.Equal(t, SkippedSpam, result.Status)
	assert.Zero(t, f.count(t, (*models.Email)(nil)))
	assert.Zero(t, f.count(t, (*storage.StorageShard)(nil)))

	f.ingestor.settings.DiscardSpam = false
	result, err = f.ingestor.Ingest(context.Background(), raw, f.mailbox, everything)
	require.NoError(t, err)
	assert.Equal(t, Created, result.Status)
	assert.Equal(t, "YES", result.Email.XSpam)
}

func TestIngestWithoutStorage(t *testing.T) {
	f := setup(t)

	result, err := f.ingestor.Ingest(context.Background(), reportMessage, f.mailbox, Options{})
	require.NoError(t, err)
	require.Equal(t, Created, result.Status)

	assert.Empty(t, result.Email.EMLPath)
	assert.Empty(t, result.Email.PreviewPath)
	require.Len(t, result.Email.Attachments, 1)
	assert.Empty(t, result.Email.Attachments[0].FilePath)

	assert.Zero(t, f.count(t, (*storage.StorageShard)(nil)))
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestImagesAreToggledSeparately(t *testing.T) {
	f := setup(t)
	raw := crlf(`Message-ID: <pictures@x>
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain

look
--b
Content-Type: image/png
Content-Disposition: attachment; filename="cat.png"

png
--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="cat.pdf"

pdf
--b--
`)

	result, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, Options{KeepAttachments: true})
	require.NoError(t, err)
	require.Len(t, result.Email.Attachments, 2)

	assert.Equal(t, "cat.png", result.Email.Attachments[0].FileName)
	assert.Empty(t, result.Email.Attachments[0].FilePath)
	assert.Equal(t, "cat.pdf", result.Email.Attachments[1].FileName)
	assert.FileExists(t, result.Email.Attachments[1].FilePath)
}

func TestIngestSkipsIneligiblePayloads(t *testing.T) {
	f := setup(t)
	raw := crlf(`Message-ID: <signed@x>
Content-Type: multipart/signed; boundary="b"

--b
Content-Type: text/plain

signed
--b
Content-Type: application/pgp-signature

sig
--b--
`)

	result, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, everything)
	require.NoError(t, err)
	require.Len(t, result.Email.Attachments, 1)
	assert.Equal(t, "pgp-signature", result.Email.Attachments[0].ContentSubtype)
	assert.Empty(t, result.Email.Attachments[0].FilePath)
}

func TestIngestDeduplicatesStoredNames(t *testing.T) {
	f := setup(t)
	raw := crlf(`Message-ID: <twins@x>
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"

one
--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"

two
--b--
`)

	result, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, everything)
	require.NoError(t, err)
	require.Len(t, result.Email.Attachments, 2)

	first, second := result.Email.Attachments[0], result.Email.Attachments[1]
	assert.Equal(t, "report.pdf", first.FileName)
	assert.Equal(t, "report.pdf", second.FileName)
	assert.Equal(t, "report.pdf", filepath.Base(first.FilePath))
	assert.Equal(t, "1_report.pdf", filepath.Base(second.FilePath))

	payload, err := os.ReadFile(second.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "two", string(payload))
}

func TestIngestLinksReplies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	parent, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, Options{})
	require.NoError(t, err)

	reply := crlf("Message-ID: <reply@x>\nIn-Reply-To: <abc@x>\nReferences: <abc@x> <unknown@x>\nSubject: Re: report\n\nthanks\n")
	child, err := f.ingestor.Ingest(ctx, reply, f.mailbox, Options{})
	require.NoError(t, err)
	require.Equal(t, Created, child.Status)
	assert.Equal(t, parent.Email.ID, child.Email.InReplyToID)
	assert.Equal(t, 1, f.count(t, (*models.EmailReference)(nil)))

	orphan := crlf("Message-ID: <lost@x>\nIn-Reply-To: <missing@x>\n\nhm\n")
	lost, err := f.ingestor.Ingest(ctx, orphan, f.mailbox, Options{})
	require.NoError(t, err)
	assert.Zero(t, lost.Email.InReplyToID)

	conversation, err := models.FullConversation(ctx, f.db, *child.Email)
	require.NoError(t, err)
	require.Len(t, conversation, 2)
	assert.Equal(t, "<abc@x>", conversation[0].MessageID)
	assert.Equal(t, "<reply@x>", conversation[1].MessageID)
}

func TestIngestDerivedMessageID(t *testing.T) {
	f := setup(t)
	raw := crlf("Subject: anonymous\n\nbody\n")

	result, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, Options{KeepOriginals: true})
	require.NoError(t, err)
	assert.Equal(t, DeriveMessageID(raw), result.Email.MessageID)
	assert.Equal(t, filepath.Join(f.root, "0", DeriveMessageID(raw), DeriveMessageID(raw)+".eml"), result.Email.EMLPath)

	again, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, Options{KeepOriginals: true})
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, again.Status)
}

func TestIngestUnknownAccount(t *testing.T) {
	f := setup(t)
	mailbox := f.mailbox
	mailbox.AccountID = 999

	_, err := f.ingestor.Ingest(context.Background(), reportMessage, mailbox, everything)
	assert.Error(t, err)
	assert.Zero(t, f.count(t, (*models.Email)(nil)))
}

func TestIngestUnknownMailbox(t *testing.T) {
	f := setup(t)

	mailbox := f.mailbox
	mailbox.ID = 999

	_, err := f.ingestor.Ingest(context.Background(), reportMessage, mailbox, everything)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)

	var persistErr *PersistError
	require.True(t, errors.As(err, &persistErr))
	assert.NotNil(t, persistErr.Unwrap())

	assert.Zero(t, f.count(t, (*models.Email)(nil)))
	assert.Zero(t, f.count(t, (*storage.StorageShard)(nil)))
}

func TestIngestUndoesWritesOnFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Attachments are inserted after every blob of the message was written.
	_, err := f.db.ExecContext(ctx, `
		CREATE TRIGGER reject_attachments BEFORE INSERT ON attachments
		BEGIN SELECT RAISE(ABORT, 'rejected'); END
	`)
	require.NoError(t, err)

	_, err = f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)

	assert.Zero(t, f.count(t, (*models.Email)(nil)))
	assert.Zero(t, f.count(t, (*models.Correspondent)(nil)))
	assert.Zero(t, f.count(t, (*storage.StorageShard)(nil)))
	assert.NoDirExists(t, filepath.Join(f.root, "0", "<abc@x>"))

	// The shard directory made for the rolled back shard row goes too.
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = f.db.ExecContext(ctx, "DROP TRIGGER reject_attachments")
	require.NoError(t, err)

	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	result, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.NoError(t, err)
	assert.Equal(t, Created, result.Status)
	assert.FileExists(t, result.Email.EMLPath)
	assert.NotContains(t, logs.String(), "severity=critical")
}

func TestIngestLosingTheInsertRace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Another ingestion commits the same message between the duplicate
	// check and the insert.
	_, err := f.db.ExecContext(ctx, `
		CREATE TRIGGER concurrent_ingestion BEFORE INSERT ON emails
		BEGIN
			INSERT INTO emails (message_id, account_id, mailbox_id, datetime, datasize, is_favorite)
			VALUES (NEW.message_id, NEW.account_id, NEW.mailbox_id, NEW.datetime, NEW.datasize, 0);
		END
	`)
	require.NoError(t, err)

	result, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: SkippedDuplicate}, result)

	assert.Zero(t, f.count(t, (*models.MailingList)(nil)))
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFailedOutcome(t *testing.T) {
	result, err := failed(slog.Default(), errDuplicate)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: SkippedDuplicate}, result)

	cause := errors.New("disk on fire")
	result, err = failed(slog.Default(), cause)
	assert.Equal(t, Result{}, result)
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, cause)
}

func TestIngestDistinctMessageIDsKeepTheirOwnFiles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	dotted := crlf("Message-ID: <a.b@x>\nSubject: dotted\n\ndotted\n")
	underscored := crlf("Message-ID: <a_b@x>\nSubject: underscored\n\nunderscored\n")

	first, err := f.ingestor.Ingest(ctx, dotted, f.mailbox, Options{KeepOriginals: true})
	require.NoError(t, err)
	require.Equal(t, Created, first.Status)

	second, err := f.ingestor.Ingest(ctx, underscored, f.mailbox, Options{KeepOriginals: true})
	require.NoError(t, err)
	require.Equal(t, Created, second.Status)

	assert.NotEqual(t, filepath.Dir(first.Email.EMLPath), filepath.Dir(second.Email.EMLPath))

	original, err := os.ReadFile(first.Email.EMLPath)
	require.NoError(t, err)
	assert.Equal(t, dotted, original)

	original, err = os.ReadFile(second.Email.EMLPath)
	require.NoError(t, err)
	assert.Equal(t, underscored, original)

	var shard storage.StorageShard
	require.NoError(t, f.db.NewSelect().Model(&shard).Where("is_current = ?", true).Scan(ctx))
	assert.Equal(t, 2, shard.SubdirectoryCount)
}

func TestIngestKeepsEveryFileOfAMessageTogether(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Every allocation fills a shard, a second allocation for the same
	// message would land in the next one.
	allocator, err := storage.NewAllocator(f.root, 1)
	require.NoError(t, err)
	f.ingestor.shards = allocator

	result, err := f.ingestor.Ingest(ctx, reportMessage, f.mailbox, everything)
	require.NoError(t, err)
	require.Equal(t, Created, result.Status)
	require.Len(t, result.Email.Attachments, 1)

	directory := filepath.Join(f.root, "0", "<abc@x>")
	assert.Equal(t, directory, filepath.Dir(result.Email.EMLPath))
	assert.Equal(t, directory, filepath.Dir(result.Email.PreviewPath))
	assert.Equal(t, directory, filepath.Dir(result.Email.Attachments[0].FilePath))

	var shards []storage.StorageShard
	require.NoError(t, f.db.NewSelect().Model(&shards).Order("directory_number ASC").Scan(ctx))
	require.Len(t, shards, 2)
	assert.Equal(t, 1, shards[0].SubdirectoryCount)
	assert.False(t, shards[0].IsCurrent)
	assert.Equal(t, 0, shards[1].SubdirectoryCount)
	assert.True(t, shards[1].IsCurrent)

	healthy, err := allocator.Healthcheck(ctx, f.db)
	require.NoError(t, err)
	assert.True(t, healthy)
}

func TestIngestDeduplicatesPrefixedNames(t *testing.T) {
	f := setup(t)
	raw := crlf(`Message-ID: <triplets@x>
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="x.pdf"

one
--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="x.pdf"

two
--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="1_x.pdf"

three
--b--
`)

	result, err := f.ingestor.Ingest(context.Background(), raw, f.mailbox, everything)
	require.NoError(t, err)
	require.Len(t, result.Email.Attachments, 3)

	expected := []struct {
		name    string
		payload string
	}{
		{"x.pdf", "one"},
		{"1_x.pdf", "two"},
		{"2_1_x.pdf", "three"},
	}
	for index, attachment := range result.Email.Attachments {
		assert.Equal(t, expected[index].name, filepath.Base(attachment.FilePath))

		payload, err := os.ReadFile(attachment.FilePath)
		require.NoError(t, err)
		assert.Equal(t, expected[index].payload, string(payload))
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "duplicate", SkippedDuplicate.String())
	assert.Equal(t, "spam", SkippedSpam.String())
}
