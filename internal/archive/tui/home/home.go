package home

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ksdme/mailvault/internal/archive/events"
	"github.com/ksdme/mailvault/internal/archive/models"
	"github.com/ksdme/mailvault/internal/archive/tui/email"
	core "github.com/ksdme/mailvault/internal/core/models"
	"github.com/ksdme/mailvault/internal/tui/colors"
	"github.com/ksdme/mailvault/internal/tui/components/picker"
	"github.com/ksdme/mailvault/internal/utils"
	"github.com/uptrace/bun"
)

// How many emails of a mailbox are listed.
const listLimit = 500

type MailboxRealTimeUpdate struct {
	account int64
	mailbox int64
}

type mailboxWithCount struct {
	core.Mailbox
	Address string `bun:"address"`
	Emails  int    `bun:"emails"`
}

type mailboxesRefreshedMsg struct {
	passive   bool
	mailboxes []mailboxWithCount
	err       error
}

type emailsRefreshedMsg struct {
	mailbox int64
	emails  []models.Email
	err     error
}

type statusMsg struct {
	text string
}

type Model struct {
	ctx   context.Context
	db    *bun.DB
	owner string

	mailboxes picker.Model
	mailbox   *mailboxWithCount
	table     table.Model
	emails    []models.Email

	// Accounts whose updates are already being listened to.
	listening map[int64]bool
	status    string

	Width  int
	Height int

	KeyMap   KeyMap
	Renderer *lipgloss.Renderer
	Colors   colors.ColorPalette
}

func NewModel(ctx context.Context, db *bun.DB, owner string, renderer *lipgloss.Renderer, colors colors.ColorPalette) Model {
	width := 80
	height := 80

	// Setup the mailboxes picker.
	pStyles := picker.DefaultStyles(renderer)
	pStyles.Title = pStyles.Title.Foreground(colors.Muted)
	pStyles.Badge = pStyles.Badge.Foreground(colors.Muted)
	pStyles.Regular = pStyles.Regular.Foreground(colors.Text)
	pStyles.Highlighted = pStyles.Highlighted.Foreground(colors.Accent).Bold(true)
	pStyles.SelectedLegend = pStyles.SelectedLegend.Foreground(colors.Accent)
	mailboxes := picker.NewModel("Mailboxes", []picker.Item{}, width/3, height, renderer)
	mailboxes.Styles = pStyles
	mailboxes.Focus()

	// Setup the emails table. Its paging keys collide with ours.
	tStyles := table.DefaultStyles()
	tStyles.Header = renderer.NewStyle().Foreground(colors.Muted).Padding(0, 1)
	tStyles.Cell = renderer.NewStyle().Foreground(colors.Text).Padding(0, 1)
	tStyles.Selected = renderer.NewStyle().Foreground(colors.Accent).Bold(true)
	tKeys := table.DefaultKeyMap()
	tKeys.PageDown = key.NewBinding(key.WithKeys("pgdown"))
	tKeys.HalfPageDown = key.NewBinding(key.WithKeys("ctrl+d"))
	emails := table.New(
		table.WithColumns(makeEmailTableColumns(width*2/3)),
		table.WithHeight(height),
		table.WithStyles(tStyles),
		table.WithKeyMap(tKeys),
	)

	return Model{
		ctx:   ctx,
		db:    db,
		owner: owner,

		mailboxes: mailboxes,
		table:     emails,

		listening: map[int64]bool{},

		Width:  width,
		Height: height,

		KeyMap:   DefaultKeyMap(),
		Renderer: renderer,
		Colors:   colors,
	}
}

func (m Model) Init() tea.Cmd {
	return m.refreshMailboxes(false)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		gap := 6

		m.mailboxes.Width = m.Width / 3
		m.mailboxes.Height = m.Height

		m.table.SetWidth(m.Width - m.mailboxes.Width - gap)
		m.table.SetHeight(m.Height - 1)
		m.table.SetColumns(makeEmailTableColumns(m.table.Width()))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.KeyMap.FocusMailboxes):
			m.mailboxes.Focus()
			m.table.Blur()
			return m, nil

		case key.Matches(msg, m.KeyMap.FocusEmails):
			if len(m.emails) > 0 {
				m.mailboxes.Blur()
				m.table.Focus()
			}
			return m, nil

		case key.Matches(msg, m.KeyMap.Select):
			if m.mailboxes.IsFocused() {
				if item := m.mailboxes.Select(); item != nil {
					m.mailbox = item.(*mailboxItem).mailbox
					m.setEmails(nil)
					return m, m.refreshEmails(m.mailbox.ID)
				}
			} else if selected := m.selectedEmail(); selected != nil {
				return m, m.emailSelected(selected.ID)
			}
			return m, nil

		case key.Matches(msg, m.KeyMap.Favorite):
			if selected := m.selectedEmail(); selected != nil && m.table.Focused() {
				return m, m.toggleFavorite(*selected)
			}
			return m, nil

		case key.Matches(msg, m.KeyMap.Delete):
			if selected := m.selectedEmail(); selected != nil && m.table.Focused() {
				return m, m.deleteEmail(*selected)
			}
			return m, nil

		case key.Matches(msg, m.KeyMap.Refresh):
			return m, m.refresh()
		}

	case MailboxRealTimeUpdate:
		slog.Debug("received mailbox update", "account", msg.account, "mailbox", msg.mailbox)
		if m.mailbox != nil && msg.mailbox == m.mailbox.ID {
			return m, tea.Batch(m.refresh(), m.listen(msg.account))
		}
		return m, tea.Batch(m.refreshMailboxes(true), m.listen(msg.account))

	case mailboxesRefreshedMsg:
		if msg.err != nil {
			slog.Error("could not load mailboxes", "owner", m.owner, "err", msg.err)
			m.status = "could not load mailboxes"
			return m, nil
		}

		var cmds []tea.Cmd
		var items []picker.Item
		for index := range msg.mailboxes {
			mailbox := &msg.mailboxes[index]
			items = append(items, &mailboxItem{mailbox: mailbox})

			if !m.listening[mailbox.AccountID] {
				m.listening[mailbox.AccountID] = true
				cmds = append(cmds, m.listen(mailbox.AccountID))
			}
		}
		m.mailboxes.SetItems(items)

		if item := m.mailboxes.SelectedItem(); item != nil {
			m.mailbox = item.(*mailboxItem).mailbox
		} else {
			m.mailbox = nil
			m.setEmails(nil)
		}

		// Trigger emails load.
		if !msg.passive && m.mailbox != nil {
			cmds = append(cmds, m.refreshEmails(m.mailbox.ID))
		}
		return m, tea.Batch(cmds...)

	case emailsRefreshedMsg:
		if msg.err != nil {
			slog.Error("could not load emails", "mailbox", msg.mailbox, "err", msg.err)
			m.status = "could not load emails"
			return m, nil
		}

		if m.mailbox != nil && msg.mailbox == m.mailbox.ID {
			m.setEmails(msg.emails)

			// If the update caused there to be no emails.
			if len(m.emails) == 0 {
				m.table.Blur()
				m.mailboxes.Focus()
			}
		}
		return m, nil

	case statusMsg:
		m.status = msg.text
		return m, nil
	}

	var cmd tea.Cmd
	if m.mailboxes.IsFocused() {
		m.mailboxes, cmd = m.mailboxes.Update(msg)
	} else {
		m.table, cmd = m.table.Update(msg)
	}
	return m, cmd
}

func (m *Model) setEmails(emails []models.Email) {
	rows := []table.Row{}
	for _, email := range emails {
		subject := email.Subject
		if email.IsFavorite {
			subject = "★ " + subject
		}

		rows = append(rows, table.Row{
			subject,
			email.Headers["From"],
			utils.RoundedAge(email.Datetime, time.Now()),
		})
	}

	m.emails = emails
	m.table.SetRows(rows)
	if cursor := m.table.Cursor(); len(rows) > 0 && cursor >= len(rows) {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m Model) selectedEmail() *models.Email {
	cursor := m.table.Cursor()
	if cursor >= 0 && cursor < len(m.emails) {
		return &m.emails[cursor]
	}
	return nil
}

func (m Model) View() string {
	if !m.mailboxes.HasItems() {
		return m.Renderer.
			NewStyle().
			Width(m.Width).
			Height(m.Height).
			AlignHorizontal(lipgloss.Center).
			AlignVertical(lipgloss.Center).
			Foreground(m.Colors.Muted).
			Render(fmt.Sprintf("no mailboxes for %s :(", m.owner))
	}

	mailboxes := m.Renderer.
		NewStyle().
		PaddingRight(5).
		Foreground(m.Colors.Text).
		Render(m.mailboxes.View())

	var emails string
	if len(m.emails) == 0 {
		emails = lipgloss.JoinVertical(
			lipgloss.Top,
			m.mailboxes.
				Styles.
				Title.
				PaddingLeft(0).
				Render("Emails"),
			m.Renderer.
				NewStyle().
				Width(m.table.Width()).
				Height(m.table.Height()).
				Foreground(m.Colors.Text).
				Render("nothing archived in this mailbox yet"),
		)
	} else {
		emails = m.table.View()
	}

	status := m.Renderer.
		NewStyle().
		Foreground(m.Colors.Muted).
		Render(m.status)

	return lipgloss.JoinHorizontal(
		lipgloss.Left,
		mailboxes,
		lipgloss.JoinVertical(lipgloss.Top, emails, status),
	)
}

func (m Model) refresh() tea.Cmd {
	cmds := []tea.Cmd{m.refreshMailboxes(true)}
	if m.mailbox != nil {
		cmds = append(cmds, m.refreshEmails(m.mailbox.ID))
	}
	return tea.Batch(cmds...)
}

func (m Model) refreshMailboxes(passive bool) tea.Cmd {
	return func() tea.Msg {
		var mailboxes []mailboxWithCount

		err := m.db.NewSelect().
			Model((*core.Mailbox)(nil)).
			Column("mailbox.*").
			ColumnExpr("account.mail_address AS address").
			ColumnExpr("COUNT(email.id) AS emails").
			Join("JOIN accounts AS account").
			JoinOn("account.id = mailbox.account_id").
			Join("LEFT JOIN emails AS email").
			JoinOn("email.mailbox_id = mailbox.id").
			Where("account.owner = ?", m.owner).
			Group("mailbox.id", "account.mail_address").
			Order("account.mail_address ASC", "mailbox.name ASC").
			Scan(m.ctx, &mailboxes)

		return mailboxesRefreshedMsg{
			passive:   passive,
			mailboxes: mailboxes,
			err:       err,
		}
	}
}

func (m Model) refreshEmails(mailbox int64) tea.Cmd {
	return func() tea.Msg {
		emails, err := models.ListEmails(m.ctx, m.db, models.EmailFilter{
			MailboxID: mailbox,
			Limit:     listLimit,
		})

		return emailsRefreshedMsg{
			mailbox: mailbox,
			emails:  emails,
			err:     err,
		}
	}
}

func (m Model) emailSelected(id int64) tea.Cmd {
	return func() tea.Msg {
		selected, err := models.GetEmail(m.ctx, m.db, id)
		if err != nil {
			slog.Error("could not load email", "email", id, "err", err)
			return statusMsg{"could not load the email"}
		}

		mentions, err := models.GetEmailCorrespondents(m.ctx, m.db, id)
		if err != nil {
			slog.Error("could not load correspondents", "email", id, "err", err)
		}

		return email.EmailSelectedMsg{Email: selected, Mentions: mentions}
	}
}

func (m Model) toggleFavorite(selected models.Email) tea.Cmd {
	return func() tea.Msg {
		if err := models.SetEmailFavorite(m.ctx, m.db, &selected, !selected.IsFavorite); err != nil {
			slog.Error("could not update favorite", "email", selected.ID, "err", err)
			return statusMsg{"could not update the email"}
		}
		return m.refreshEmails(selected.MailboxID)()
	}
}

func (m Model) deleteEmail(selected models.Email) tea.Cmd {
	return func() tea.Msg {
		if err := models.DeleteEmail(m.ctx, m.db, selected.ID); err != nil {
			slog.Error("could not delete email", "email", selected.ID, "err", err)
			return statusMsg{"could not delete the email"}
		}

		events.MailboxContentsUpdatedSignal.Emit(selected.AccountID, selected.MailboxID)
		return statusMsg{fmt.Sprintf("deleted %s", selected.Subject)}
	}
}

func (m Model) listen(account int64) tea.Cmd {
	return func() tea.Msg {
		slog.Debug("listening to mailbox updates", "account", account)
		if mailbox, aborted := events.MailboxContentsUpdatedSignal.Wait(m.ctx, account); !aborted {
			return MailboxRealTimeUpdate{account: account, mailbox: mailbox}
		}

		return nil
	}
}

func (m Model) Help() []key.Binding {
	var help []key.Binding

	if m.mailboxes.IsFocused() {
		help = append(
			help,
			m.KeyMap.Select,
			m.KeyMap.FocusEmails,
			m.KeyMap.Refresh,
		)
	} else if m.table.Focused() {
		help = append(
			help,
			m.KeyMap.Select,
			m.KeyMap.Favorite,
			m.KeyMap.Delete,
			m.KeyMap.Refresh,
			m.KeyMap.FocusMailboxes,
		)
	}

	return help
}

type KeyMap struct {
	Select   key.Binding
	Favorite key.Binding
	Delete   key.Binding
	Refresh  key.Binding

	FocusMailboxes key.Binding
	FocusEmails    key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Favorite: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "favorite"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),

		FocusMailboxes: key.NewBinding(
			key.WithKeys("left", "h", "esc"),
			key.WithHelp("←/h", "mailboxes"),
		),
		FocusEmails: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "emails"),
		),
	}
}

type mailboxItem struct {
	mailbox *mailboxWithCount
}

func (m *mailboxItem) ID() int64 {
	return m.mailbox.ID
}

func (m *mailboxItem) Label() string {
	return fmt.Sprintf("%s/%s", m.mailbox.Address, m.mailbox.Name)
}

func (m *mailboxItem) Badge() string {
	return strconv.Itoa(m.mailbox.Emails)
}

func makeEmailTableColumns(width int) []table.Column {
	// Cells carry a padding of one on each side.
	width -= 6
	at := width * 15 / 100
	from := width * 3 / 10
	return []table.Column{
		{Title: "Subject", Width: width - at - from},
		{Title: "From", Width: from},
		{Title: "Age", Width: at},
	}
}
