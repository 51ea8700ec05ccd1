package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// General server level configuration.
type coreSettings struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	DBDriver  string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBURI     string `env:"DB_URI" envDefault:"file:mailvault.sqlite3?_foreign_keys=on"`
	DBMigrate bool   `env:"DB_MIGRATE"`

	SSHHostKeyPath        string `env:"SSH_HOST_KEY_PATH,expand" envDefault:"${HOME}/.ssh/id_rsa"`
	SSHAuthorizedKeysPath string `env:"SSH_AUTHORIZED_KEYS_PATH"`
	SSHBindAddr           string `env:"SSH_BIND_ADDR" envDefault:"127.0.0.1:2222"`
}

// Settings for the on-disk blob storage.
type storageSettings struct {
	Root               string `env:"STORAGE_PATH" envDefault:"archive"`
	MaxSubdirsPerShard int    `env:"STORAGE_MAX_SUBDIRS_PER_DIR" envDefault:"1000"`
}

// Settings that govern how raw messages are turned into archive rows.
type ingestSettings struct {
	DiscardSpam bool `env:"THROW_OUT_SPAM" envDefault:"true"`

	// Defaults applied to newly created mailboxes.
	SaveToEMLDefault       bool `env:"DEFAULT_SAVE_TO_EML" envDefault:"true"`
	SaveAttachmentsDefault bool `env:"DEFAULT_SAVE_ATTACHMENTS" envDefault:"true"`
	SaveImagesDefault      bool `env:"DEFAULT_SAVE_IMAGES" envDefault:"true"`
	SaveToHTMLDefault      bool `env:"DEFAULT_SAVE_TO_HTML" envDefault:"false"`

	SaveContentTypePrefixes     []string `env:"SAVE_CONTENT_TYPE_PREFIXES" envSeparator:"," envDefault:"image/,audio/,video/,model/,font/,application/"`
	DontSaveContentTypeSuffixes []string `env:"DONT_SAVE_CONTENT_TYPE_SUFFIXES" envSeparator:"," envDefault:"/x-pkcs7-signature,/pgp-signature"`

	HeaderSeparator string `env:"HEADER_SEPARATOR" envDefault:","`
}

// Settings related to the mail intake and fetching.
type mailSettings struct {
	MXHost          string        `env:"MX_HOST" envDefault:"localhost"`
	SMTPBindAddr    string        `env:"SMTP_BIND_ADDR" envDefault:"127.0.0.1:1025"`
	MaxMessageBytes int64         `env:"SMTP_MAX_MESSAGE_BYTES" envDefault:"52428800"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"2m"`
}

func init() {
	if err := env.Parse(&Core); err != nil {
		panic(fmt.Sprintf("could not parse core configuration: %v", err))
	}

	if err := env.Parse(&Storage); err != nil {
		panic(fmt.Sprintf("could not parse storage configuration: %v", err))
	}

	if err := env.Parse(&Ingest); err != nil {
		panic(fmt.Sprintf("could not parse ingest configuration: %v", err))
	}

	if err := env.Parse(&Mail); err != nil {
		panic(fmt.Sprintf("could not parse mail configuration: %v", err))
	}
}

var Core coreSettings
var Storage storageSettings
var Ingest ingestSettings
var Mail mailSettings
