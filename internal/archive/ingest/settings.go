package ingest

import (
	"strings"

	"github.com/ksdme/mailvault/internal/config"
	core "github.com/ksdme/mailvault/internal/core/models"
)

// Which blobs of a message are written to storage.
type Options struct {
	KeepOriginals   bool
	KeepAttachments bool
	KeepImages      bool
	KeepPreview     bool
}

// The storage options configured on a mailbox.
func OptionsFor(mailbox core.Mailbox) Options {
	return Options{
		KeepOriginals:   mailbox.SaveToEML,
		KeepAttachments: mailbox.SaveAttachments,
		KeepImages:      mailbox.SaveImages,
		KeepPreview:     mailbox.SaveToHTML,
	}
}

// Parsing and filtering behaviour shared by every ingestion.
type Settings struct {
	DiscardSpam bool

	SaveContentTypePrefixes     []string
	DontSaveContentTypeSuffixes []string

	HeaderSeparator string
}

func DefaultSettings() Settings {
	return Settings{
		DiscardSpam:                 config.Ingest.DiscardSpam,
		SaveContentTypePrefixes:     config.Ingest.SaveContentTypePrefixes,
		DontSaveContentTypeSuffixes: config.Ingest.DontSaveContentTypeSuffixes,
		HeaderSeparator:             config.Ingest.HeaderSeparator,
	}
}

// Reports whether a payload of this media type may be stored.
func (s Settings) Eligible(mediaType string) bool {
	mediaType = strings.ToLower(mediaType)

	matched := false
	for _, prefix := range s.SaveContentTypePrefixes {
		if prefix = strings.ToLower(strings.TrimSpace(prefix)); prefix != "" && strings.HasPrefix(mediaType, prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, suffix := range s.DontSaveContentTypeSuffixes {
		if suffix = strings.ToLower(strings.TrimSpace(suffix)); suffix != "" && strings.HasSuffix(mediaType, suffix) {
			return false
		}
	}
	return true
}
