package models

import (
	"fmt"
	"strings"
	"time"
)

// A file extracted from a message. FilePath stays empty when the payload
// was not written, either by configuration or because the write failed.
type Attachment struct {
	ID       int64  `bun:",pk,autoincrement"`
	FileName string `bun:",notnull"`
	FilePath string `bun:",nullzero,unique:attachments_path_email"`

	ContentDisposition string
	ContentID          string
	ContentMaintype    string `bun:",notnull"`
	ContentSubtype     string `bun:",notnull"`
	Datasize           int64  `bun:",notnull"`
	IsFavorite         bool   `bun:",notnull"`

	EmailID int64  `bun:",notnull,unique:attachments_path_email"`
	Email   *Email `bun:"rel:belongs-to,join:email_id=id,on_delete:cascade"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (a Attachment) ContentType() string {
	return fmt.Sprintf("%s/%s", a.ContentMaintype, a.ContentSubtype)
}

func (a Attachment) IsImage() bool {
	return strings.EqualFold(a.ContentMaintype, "image")
}
