package email

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ksdme/mailvault/internal/archive/models"
	"github.com/ksdme/mailvault/internal/tui/colors"
	"github.com/stretchr/testify/assert"
)

func TestBody(t *testing.T) {
	assert.Equal(t, "line\nnext", Body(&models.Email{PlainBodytext: "line\r\nnext", HTMLBodytext: "<p>ignored</p>"}))
	assert.Contains(t, Body(&models.Email{HTMLBodytext: "<p>Hello <b>there</b></p>"}), "Hello there")
	assert.Equal(t, "(empty body)", Body(&models.Email{}))
}

func TestContent(t *testing.T) {
	m := NewModel(lipgloss.DefaultRenderer(), colors.DefaultDarkColorPalette())
	m.Width = 80

	email := &models.Email{
		Subject:       "Report",
		Datetime:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		PlainBodytext: "hello",
		IsFavorite:    true,
		Attachments: []models.Attachment{
			{FileName: "f.pdf", ContentMaintype: "application", ContentSubtype: "pdf", Datasize: 2048, FilePath: "/archive/0/x/f.pdf"},
			{FileName: "sig.asc", ContentMaintype: "application", ContentSubtype: "pgp-signature", Datasize: 10},
		},
	}
	mentions := []models.EmailCorrespondent{
		{Mention: models.MentionFrom, Correspondent: &models.Correspondent{Address: "alice@example.com", Name: "Alice"}},
		{Mention: models.MentionTo, Correspondent: &models.Correspondent{Address: "bob@example.com"}},
		{Mention: models.MentionTo, Correspondent: &models.Correspondent{Address: "carol@example.com"}},
	}

	content := m.makeContent(email, mentions)
	assert.Contains(t, content, "★ Report")
	assert.Contains(t, content, "Alice <alice@example.com>")
	assert.Contains(t, content, "bob@example.com, carol@example.com")
	assert.Contains(t, content, "f.pdf (application/pdf, 2.0 KiB, stored)")
	assert.Contains(t, content, "sig.asc (application/pgp-signature, 10 B, not stored)")
	assert.Contains(t, content, "hello")
}

func TestDismiss(t *testing.T) {
	m := NewModel(lipgloss.DefaultRenderer(), colors.DefaultDarkColorPalette())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if assert.NotNil(t, cmd) {
		assert.Equal(t, EmailDismissMsg{}, cmd())
	}
}
