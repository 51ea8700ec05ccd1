package fetch

import (
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
)

var (
	ErrUnknownCriterion     = errors.New("unknown fetching criterion")
	ErrUnsupportedCriterion = errors.New("criterion is not supported by the protocol")
)

const (
	CriterionAll        = "ALL"
	CriterionUnseen     = "UNSEEN"
	CriterionSeen       = "SEEN"
	CriterionRecent     = "RECENT"
	CriterionNew        = "NEW"
	CriterionOld        = "OLD"
	CriterionFlagged    = "FLAGGED"
	CriterionUnflagged  = "UNFLAGGED"
	CriterionDraft      = "DRAFT"
	CriterionUndraft    = "UNDRAFT"
	CriterionAnswered   = "ANSWERED"
	CriterionUnanswered = "UNANSWERED"
	CriterionDeleted    = "DELETED"
	CriterionUndeleted  = "UNDELETED"
	CriterionDaily      = "DAILY"
	CriterionWeekly     = "WEEKLY"
	CriterionMonthly    = "MONTHLY"
	CriterionAnnually   = "ANNUALLY"
)

var Criteria = []string{
	CriterionAll,
	CriterionUnseen,
	CriterionSeen,
	CriterionRecent,
	CriterionNew,
	CriterionOld,
	CriterionFlagged,
	CriterionUnflagged,
	CriterionDraft,
	CriterionUndraft,
	CriterionAnswered,
	CriterionUnanswered,
	CriterionDeleted,
	CriterionUndeleted,
	CriterionDaily,
	CriterionWeekly,
	CriterionMonthly,
	CriterionAnnually,
}

// Days looked back by the date based criteria.
var windows = map[string]int{
	CriterionDaily:    1,
	CriterionWeekly:   7,
	CriterionMonthly:  28,
	CriterionAnnually: 365,
}

// Translates a criterion name into an IMAP search. An empty name means
// every message.
func Criterion(name string, now time.Time) (*imap.SearchCriteria, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	criteria := imap.NewSearchCriteria()

	with := func(flags ...string) {
		criteria.WithFlags = append(criteria.WithFlags, flags...)
	}
	without := func(flags ...string) {
		criteria.WithoutFlags = append(criteria.WithoutFlags, flags...)
	}

	switch name {
	case "", CriterionAll:
	case CriterionUnseen:
		without(imap.SeenFlag)
	case CriterionSeen:
		with(imap.SeenFlag)
	case CriterionRecent:
		with(imap.RecentFlag)
	case CriterionNew:
		with(imap.RecentFlag)
		without(imap.SeenFlag)
	case CriterionOld:
		without(imap.RecentFlag)
	case CriterionFlagged:
		with(imap.FlaggedFlag)
	case CriterionUnflagged:
		without(imap.FlaggedFlag)
	case CriterionDraft:
		with(imap.DraftFlag)
	case CriterionUndraft:
		without(imap.DraftFlag)
	case CriterionAnswered:
		with(imap.AnsweredFlag)
	case CriterionUnanswered:
		without(imap.AnsweredFlag)
	case CriterionDeleted:
		with(imap.DeletedFlag)
	case CriterionUndeleted:
		without(imap.DeletedFlag)
	default:
		days, ok := windows[name]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownCriterion, "%q", name)
		}
		criteria.SentSince = now.AddDate(0, 0, -days)
	}

	return criteria, nil
}

// Whether the search matches every message of a mailbox.
func SelectsEverything(criteria *imap.SearchCriteria) bool {
	return criteria == nil ||
		len(criteria.WithFlags) == 0 &&
			len(criteria.WithoutFlags) == 0 &&
			criteria.SentSince.IsZero()
}
