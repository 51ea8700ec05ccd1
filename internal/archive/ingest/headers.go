package ingest

import (
	"log/slog"
	"mime"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var (
	decoder  = mime.WordDecoder{CharsetReader: charset.Reader}
	unfolder = strings.NewReplacer("\r\n", "", "\n", "")
)

// Decodes RFC 2047 encoded words in a header value. Undecodable values
// are returned as they are.
func DecodeHeader(value string) string {
	value = unfolder.Replace(value)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		slog.Warn("could not decode header", "value", value, "err", err)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}

// Decodes every occurrence of a header and joins them with separator.
func GetHeader(header message.Header, name string, separator string) string {
	var values []string
	fields := header.FieldsByKey(name)
	for fields.Next() {
		if decoded := DecodeHeader(fields.Value()); decoded != "" {
			values = append(values, decoded)
		}
	}
	return strings.Join(values, separator)
}

// All headers keyed by their canonical name.
func HeaderMap(header message.Header, separator string) map[string]string {
	headers := map[string]string{}

	fields := header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		value := DecodeHeader(fields.Value())

		if existing, ok := headers[key]; ok {
			headers[key] = existing + separator + value
		} else {
			headers[key] = value
		}
	}

	return headers
}

// Parses the Date header. An absent or unparsable date falls back to now.
func ParseDate(header message.Header, now time.Time) time.Time {
	value := header.Get("Date")
	if value == "" {
		slog.Warn("message has no date, using current time")
		return now
	}

	h := mail.Header{Header: header}
	date, err := h.Date()
	if err != nil {
		slog.Warn("could not parse date, using current time", "date", value, "err", err)
		return now
	}
	return date
}

// Reports whether a spam filter flagged the message.
func IsSpam(header message.Header) bool {
	return strings.Contains(strings.ToUpper(header.Get("X-Spam-Flag")), "YES")
}

// Splits In-Reply-To and References style headers into message ids.
func ParseMessageIDs(value string) []string {
	var ids []string
	for _, field := range strings.Fields(value) {
		for _, part := range strings.Split(field, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	}
	return ids
}
