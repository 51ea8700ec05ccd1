package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/k3a/html2text"
	"github.com/ksdme/mailvault/internal/archive/models"
	"github.com/ksdme/mailvault/internal/tui/colors"
	"github.com/ksdme/mailvault/internal/utils"
)

type EmailSelectedMsg struct {
	Email    *models.Email
	Mentions []models.EmailCorrespondent
}

type EmailDismissMsg struct{}

type Model struct {
	viewport viewport.Model

	Width  int
	Height int

	KeyMap   KeyMap
	Renderer *lipgloss.Renderer
	Colors   colors.ColorPalette
}

func NewModel(renderer *lipgloss.Renderer, colors colors.ColorPalette) Model {
	width := 64
	height := 64

	return Model{
		viewport: viewport.New(width, height),

		Width:  width,
		Height: height,

		KeyMap:   DefaultKeyMap(),
		Renderer: renderer,
		Colors:   colors,
	}
}

func (m Model) Init() tea.Cmd {
	return m.viewport.Init()
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = m.Width
		m.viewport.Height = m.Height

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.KeyMap.Dismiss):
			return m, m.dismiss
		}

	case EmailSelectedMsg:
		m.viewport.SetContent(m.makeContent(msg.Email, msg.Mentions))
		m.viewport.SetYOffset(0)
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	return m.viewport.View()
}

func (m Model) makeContent(email *models.Email, mentions []models.EmailCorrespondent) string {
	labelStyle := m.Renderer.
		NewStyle().
		Width(10).
		Foreground(m.Colors.Muted)

	valueStyle := m.Renderer.
		NewStyle().
		Foreground(m.Colors.Text)

	field := func(label string, value string) string {
		return lipgloss.JoinHorizontal(
			lipgloss.Top,
			labelStyle.Render(label),
			valueStyle.Render(value),
		)
	}

	subject := email.Subject
	if email.IsFavorite {
		subject = "★ " + subject
	}

	lines := []string{
		field("Subject", subject),
		field("Date", email.Datetime.Format(time.RFC1123Z)),
	}

	// Correspondents grouped by the header they were found in.
	var roles []models.Mention
	grouped := map[models.Mention][]string{}
	for _, mention := range mentions {
		if mention.Correspondent == nil {
			continue
		}
		if _, ok := grouped[mention.Mention]; !ok {
			roles = append(roles, mention.Mention)
		}
		grouped[mention.Mention] = append(grouped[mention.Mention], formatCorrespondent(mention.Correspondent))
	}
	for _, role := range roles {
		lines = append(lines, field(role.Header(), strings.Join(grouped[role], ", ")))
	}

	if email.MailingList != nil {
		lines = append(lines, field("List", email.MailingList.ListID))
	}

	for _, attachment := range email.Attachments {
		state := "not stored"
		if attachment.FilePath != "" {
			state = "stored"
		}
		lines = append(lines, field(
			"Attached",
			fmt.Sprintf("%s (%s, %s, %s)", attachment.FileName, attachment.ContentType(), utils.HumanSize(attachment.Datasize), state),
		))
	}

	body := valueStyle.
		Width(m.Width).
		MarginTop(1).
		Render(Body(email))

	return lipgloss.JoinVertical(lipgloss.Top, append(lines, body)...)
}

// The text shown for an email. HTML only emails are converted to text.
func Body(email *models.Email) string {
	if email.PlainBodytext != "" {
		return utils.Decode(email.PlainBodytext)
	}

	if email.HTMLBodytext != "" {
		return utils.Decode(html2text.HTML2TextWithOptions(
			email.HTMLBodytext,
			html2text.WithLinksInnerText(),
			html2text.WithListSupport(),
		))
	}

	return "(empty body)"
}

func formatCorrespondent(correspondent *models.Correspondent) string {
	if correspondent.Name != "" {
		return fmt.Sprintf("%s <%s>", correspondent.Name, correspondent.Address)
	}
	return correspondent.Address
}

func (m Model) dismiss() tea.Msg {
	return EmailDismissMsg{}
}

type KeyMap struct {
	Dismiss key.Binding
}

func (m Model) Help() []key.Binding {
	return []key.Binding{
		m.KeyMap.Dismiss,
	}
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Dismiss: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "go back"),
		),
	}
}
