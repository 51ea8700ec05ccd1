package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ksdme/mailvault/internal/archive/ingest"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Tally of one synchronization.
type Summary struct {
	Created    int
	Duplicates int
	Spam       int
	Failed     int
}

func (s *Summary) Add(status ingest.Status) {
	switch status {
	case ingest.Created:
		s.Created += 1
	case ingest.SkippedDuplicate:
		s.Duplicates += 1
	case ingest.SkippedSpam:
		s.Spam += 1
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d duplicates, %d spam, %d failed", s.Created, s.Duplicates, s.Spam, s.Failed)
}

// Connects to the account's server and archives every matching message.
// Only the mailbox named only is synchronized when it is set.
func Sync(
	ctx context.Context,
	db *bun.DB,
	ingestor *ingest.Ingestor,
	account *core.Account,
	criterion string,
	only string,
) (Summary, error) {
	criteria, err := Criterion(criterion, time.Now())
	if err != nil {
		return Summary{}, err
	}

	// A maildrop cannot be searched.
	pop3 := account.Protocol == core.ProtocolPOP3 || account.Protocol == core.ProtocolPOP3SSL
	if pop3 && !SelectsEverything(criteria) {
		return Summary{}, errors.Wrapf(ErrUnsupportedCriterion, "%s over %s", criterion, account.Protocol)
	}

	fetcher, err := Dial(*account)
	if err != nil {
		if err := core.MarkAccountHealth(ctx, db, account, false); err != nil {
			slog.Error("could not record account health", "account", account.ID, "err", err)
		}
		return Summary{}, err
	}
	defer fetcher.Close()

	return SyncSource(ctx, db, ingestor, account, fetcher, criterion, only)
}

// Archives the matching messages of every mailbox of the source. Messages
// that fail to ingest are counted and skipped, a failure to reach the
// source marks the account unhealthy.
func SyncSource(
	ctx context.Context,
	db *bun.DB,
	ingestor *ingest.Ingestor,
	account *core.Account,
	source Source,
	criterion string,
	only string,
) (Summary, error) {
	logger := slog.With("account", account.ID, "criterion", criterion)

	criteria, err := Criterion(criterion, time.Now())
	if err != nil {
		return Summary{}, err
	}

	unhealthy := func(err error) (Summary, error) {
		if err := core.MarkAccountHealth(ctx, db, account, false); err != nil {
			logger.Error("could not record account health", "err", err)
		}
		return Summary{}, err
	}

	names, err := source.Mailboxes()
	if err != nil {
		return unhealthy(err)
	}

	var summary Summary
	matched := false
	for _, name := range names {
		if only != "" && name != only {
			continue
		}
		matched = true

		mailbox, err := core.GetOrCreateMailbox(ctx, db, *account, name)
		if err != nil {
			return summary, err
		}

		raws, err := source.Fetch(name, criteria)
		if err != nil {
			return unhealthy(err)
		}

		options := ingest.OptionsFor(*mailbox)
		for _, raw := range raws {
			if err := ctx.Err(); err != nil {
				return summary, err
			}

			result, err := ingestor.Ingest(ctx, raw, *mailbox, options)
			if err != nil {
				logger.Error("could not archive fetched message", "mailbox", name, "err", err)
				summary.Failed += 1
				continue
			}
			summary.Add(result.Status)
		}

		logger.Info("synchronized mailbox", "mailbox", name, "fetched", len(raws))
	}

	if only != "" && !matched {
		return summary, errors.Errorf("the server has no mailbox named %q", only)
	}

	if err := core.MarkAccountHealth(ctx, db, account, true); err != nil {
		return summary, err
	}

	logger.Info(
		"synchronized account",
		"created", summary.Created,
		"duplicates", summary.Duplicates,
		"spam", summary.Spam,
		"failed", summary.Failed,
	)
	return summary, nil
}
