package ingest

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/ksdme/mailvault/internal/archive/models"
	"github.com/pkg/errors"
)

// A message broken down into the pieces that become archive rows.
type Parsed struct {
	MessageID string
	// Set when the message had no Message-ID and one was derived.
	DerivedID bool

	Date       time.Time
	Subject    string
	InReplyTo  string
	References []string
	XSpam      string
	Spam       bool
	Headers    map[string]string
	Datasize   int64

	PlainBody string
	HTMLBody  string

	MailingList *ParsedMailingList
	Mentions    []ParsedMention
	Attachments []ParsedAttachment
}

type ParsedMailingList struct {
	ListID      string
	Owner       string
	Subscribe   string
	Unsubscribe string
	Post        string
	Help        string
	Archive     string
}

type ParsedMention struct {
	Mention models.Mention
	Name    string
	Address string
}

type ParsedAttachment struct {
	FileName    string
	Disposition string
	ContentID   string
	Maintype    string
	Subtype     string
	Payload     []byte

	// Whether the payload may be written to storage at all.
	Eligible bool
}

func (a ParsedAttachment) IsImage() bool {
	return a.Maintype == "image"
}

// Derives a message id from the raw bytes of a message.
func DeriveMessageID(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Parses a raw message. Every leaf part ends up in exactly one of the
// plain body, the html body or the attachments. Multipart containers
// are only walked through.
func Parse(raw []byte, settings Settings, now time.Time) (*Parsed, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil {
		if entity == nil || !isRecoverable(err) {
			return nil, errors.Wrap(err, "could not parse message")
		}
		slog.Warn("message uses an unknown charset or encoding", "err", err)
	}

	header := entity.Header
	separator := settings.HeaderSeparator

	parsed := &Parsed{
		MessageID: GetHeader(header, "Message-Id", " "),
		Date:      ParseDate(header, now),
		Subject:   GetHeader(header, "Subject", separator),
		XSpam:     GetHeader(header, "X-Spam-Flag", separator),
		Spam:      IsSpam(header),
		Headers:   HeaderMap(header, separator),
		Datasize:  int64(len(raw)),
	}

	if parsed.MessageID == "" {
		parsed.MessageID = DeriveMessageID(raw)
		parsed.DerivedID = true
		slog.Debug("message has no id, derived one", "message", parsed.MessageID)
	}

	if ids := ParseMessageIDs(GetHeader(header, "In-Reply-To", " ")); len(ids) > 0 {
		parsed.InReplyTo = ids[0]
	}
	parsed.References = ParseMessageIDs(GetHeader(header, "References", " "))

	if listID := GetHeader(header, "List-Id", separator); listID != "" {
		parsed.MailingList = &ParsedMailingList{
			ListID:      listID,
			Owner:       GetHeader(header, "List-Owner", separator),
			Subscribe:   GetHeader(header, "List-Subscribe", separator),
			Unsubscribe: GetHeader(header, "List-Unsubscribe", separator),
			Post:        GetHeader(header, "List-Post", separator),
			Help:        GetHeader(header, "List-Help", separator),
			Archive:     GetHeader(header, "List-Archive", separator),
		}
	}

	parsed.Mentions = parseMentions(header)

	var plain, html strings.Builder
	err = entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil {
			if part == nil || !isRecoverable(err) {
				return err
			}
			slog.Warn("part uses an unknown charset or encoding", "path", path, "err", err)
		}

		mediaType, params := contentType(part.Header)
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		payload, err := io.ReadAll(part.Body)
		if err != nil {
			slog.Warn("could not fully decode part", "path", path, "type", mediaType, "err", err)
		}

		disposition, _, _ := part.Header.ContentDisposition()
		disposition = strings.ToLower(disposition)

		switch {
		case disposition == "attachment" || disposition == "inline":
			parsed.Attachments = append(
				parsed.Attachments,
				newAttachment(part, mediaType, params, disposition, payload, true, settings),
			)

		case mediaType == "text/plain":
			plain.Write(payload)

		case mediaType == "text/html":
			html.Write(payload)

		default:
			parsed.Attachments = append(
				parsed.Attachments,
				newAttachment(part, mediaType, params, disposition, payload, false, settings),
			)
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not walk message parts")
	}

	parsed.PlainBody = strings.TrimSpace(plain.String())
	parsed.HTMLBody = strings.TrimSpace(html.String())

	return parsed, nil
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// Parses the Content-Type of a part. A missing type means text/plain
// and an unparsable one is treated as opaque binary.
func contentType(header message.Header) (string, map[string]string) {
	value := header.Get("Content-Type")
	if value == "" {
		return "text/plain", map[string]string{}
	}

	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		slog.Warn("could not parse content type", "value", value, "err", err)
		return "application/octet-stream", map[string]string{}
	}
	return strings.ToLower(mediaType), params
}

func newAttachment(
	part *message.Entity,
	mediaType string,
	params map[string]string,
	disposition string,
	payload []byte,
	explicit bool,
	settings Settings,
) ParsedAttachment {
	maintype, subtype, _ := strings.Cut(mediaType, "/")

	attachmentHeader := mail.AttachmentHeader{Header: part.Header}
	filename, err := attachmentHeader.Filename()
	if err != nil {
		slog.Warn("could not decode attachment filename", "err", err)
		filename = ""
	}
	if filename == "" {
		filename = params["name"]
	}
	if filename = strings.TrimSpace(filename); filename == "" {
		filename = fmt.Sprintf("%s.%s", DeriveMessageID(payload), subtype)
	}

	return ParsedAttachment{
		FileName:    filename,
		Disposition: disposition,
		ContentID:   strings.TrimSpace(part.Header.Get("Content-Id")),
		Maintype:    maintype,
		Subtype:     subtype,
		Payload:     payload,
		Eligible:    explicit || settings.Eligible(mediaType),
	}
}

func parseMentions(header message.Header) []ParsedMention {
	var mentions []ParsedMention
	seen := map[string]bool{}

	add := func(mention models.Mention, name string, address string) {
		address = strings.ToLower(strings.Trim(strings.TrimSpace(address), "<>"))
		if address == "" {
			return
		}

		key := string(mention) + "\x00" + address
		if seen[key] {
			return
		}
		seen[key] = true

		mentions = append(mentions, ParsedMention{
			Mention: mention,
			Name:    strings.TrimSpace(name),
			Address: address,
		})
	}

	for _, mention := range models.Mentions {
		fields := header.FieldsByKey(mention.Header())
		for fields.Next() {
			value := fields.Value()

			addresses, err := mail.ParseAddressList(unfolder.Replace(value))
			if err != nil {
				slog.Warn("could not parse address header, keeping it whole", "header", mention.Header(), "err", err)
				add(mention, "", DecodeHeader(value))
				continue
			}

			for _, address := range addresses {
				add(mention, address.Name, address.Address)
			}
		}
	}

	return mentions
}
