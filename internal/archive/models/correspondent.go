package models

import (
	"net/textproto"
	"time"
)

// The header a correspondent was found in.
type Mention string

const (
	MentionFrom                      Mention = "FROM"
	MentionTo                        Mention = "TO"
	MentionCc                        Mention = "CC"
	MentionBcc                       Mention = "BCC"
	MentionSender                    Mention = "SENDER"
	MentionReplyTo                   Mention = "REPLY-TO"
	MentionResentFrom                Mention = "RESENT-FROM"
	MentionResentTo                  Mention = "RESENT-TO"
	MentionResentCc                  Mention = "RESENT-CC"
	MentionResentBcc                 Mention = "RESENT-BCC"
	MentionResentSender              Mention = "RESENT-SENDER"
	MentionResentReplyTo             Mention = "RESENT-REPLY-TO"
	MentionEnvelopeTo                Mention = "ENVELOPE-TO"
	MentionDeliveredTo               Mention = "DELIVERED-TO"
	MentionReturnPath                Mention = "RETURN-PATH"
	MentionReturnReceiptTo           Mention = "RETURN-RECEIPT-TO"
	MentionDispositionNotificationTo Mention = "DISPOSITION-NOTIFICATION-TO"
)

// Headers that carry correspondents, in the order they are read.
var Mentions = []Mention{
	MentionFrom,
	MentionTo,
	MentionCc,
	MentionBcc,
	MentionSender,
	MentionReplyTo,
	MentionResentFrom,
	MentionResentTo,
	MentionResentCc,
	MentionResentBcc,
	MentionResentSender,
	MentionResentReplyTo,
	MentionEnvelopeTo,
	MentionDeliveredTo,
	MentionReturnPath,
	MentionReturnReceiptTo,
	MentionDispositionNotificationTo,
}

// The header name a mention is read from.
func (m Mention) Header() string {
	return textproto.CanonicalMIMEHeaderKey(string(m))
}

// A mail address known to a user.
type Correspondent struct {
	ID         int64  `bun:",pk,autoincrement"`
	Address    string `bun:",notnull,unique:correspondents_address_owner"`
	Owner      string `bun:",notnull,unique:correspondents_address_owner"`
	Name       string
	IsFavorite bool `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Joins a correspondent to an email under a mention.
type EmailCorrespondent struct {
	ID              int64          `bun:",pk,autoincrement"`
	EmailID         int64          `bun:",notnull,unique:email_correspondents_mention"`
	Email           *Email         `bun:"rel:belongs-to,join:email_id=id,on_delete:cascade"`
	CorrespondentID int64          `bun:",notnull,unique:email_correspondents_mention"`
	Correspondent   *Correspondent `bun:"rel:belongs-to,join:correspondent_id=id,on_delete:cascade"`
	Mention         Mention        `bun:",notnull,unique:email_correspondents_mention"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Metadata from the List-* headers.
type MailingList struct {
	ID          int64  `bun:",pk,autoincrement"`
	ListID      string `bun:",notnull,unique"`
	Owner       string
	Subscribe   string
	Unsubscribe string
	Post        string
	Help        string
	Archive     string
	IsFavorite  bool `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
