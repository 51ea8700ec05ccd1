package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ksdme/mailvault/internal/archive/tui/email"
	"github.com/ksdme/mailvault/internal/archive/tui/home"
	"github.com/ksdme/mailvault/internal/tui/colors"
	"github.com/ksdme/mailvault/internal/tui/components/help"
	"github.com/uptrace/bun"
)

type mode int

const (
	Home mode = iota
	Email
)

// Represents the top most model.
type Model struct {
	db    *bun.DB
	owner string

	mode  mode
	home  home.Model
	email email.Model

	width  int
	height int

	KeyMap   KeyMap
	Colors   colors.ColorPalette
	Renderer *lipgloss.Renderer

	quit     tea.Cmd
	quitting bool
}

// Browses the archive of every account owned by owner. The context
// bounds the lifetime of background listeners.
func NewModel(
	ctx context.Context,
	db *bun.DB,
	owner string,
	renderer *lipgloss.Renderer,
	colors colors.ColorPalette,
	quit tea.Cmd,
) Model {
	return Model{
		db:    db,
		owner: owner,

		mode:  Home,
		home:  home.NewModel(ctx, db, owner, renderer, colors),
		email: email.NewModel(renderer, colors),

		KeyMap:   DefaultKeyMap(),
		Renderer: renderer,
		Colors:   colors,

		quit: quit,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.home.Init(),
		m.email.Init(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		m.home.Width = m.width - 12
		m.home.Height = m.height - 6

		m.email.Width = m.home.Width
		m.email.Height = m.home.Height

		m.home, _ = m.home.Update(msg)
		m.email, _ = m.email.Update(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.KeyMap.Quit):
			m.quitting = true
			return m, m.quit
		}

	case home.MailboxRealTimeUpdate:
		m.home, cmd = m.home.Update(msg)
		return m, cmd

	case email.EmailSelectedMsg:
		m.mode = Email
		m.email, cmd = m.email.Update(msg)
		return m, cmd

	case email.EmailDismissMsg:
		m.mode = Home
		return m, nil
	}

	if m.mode == Home {
		m.home, cmd = m.home.Update(msg)
		return m, cmd
	} else if m.mode == Email {
		m.email, cmd = m.email.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	// This lets us not leave behind lines at the end.
	if m.quitting {
		return ""
	}

	content := "loading"
	if m.mode == Home {
		content = m.home.View()
	} else if m.mode == Email {
		content = m.email.View()
	}

	return m.Renderer.
		NewStyle().
		Padding(2, 6).
		Render(
			lipgloss.JoinVertical(
				lipgloss.Top,
				content,
				help.View(m.Help(), m.home.Width, m.Renderer, m.Colors),
			),
		)
}

func (m Model) Help() []key.Binding {
	var bindings []key.Binding

	if m.mode == Home {
		bindings = append(bindings, m.home.Help()...)
	} else if m.mode == Email {
		bindings = append(bindings, m.email.Help()...)
	}

	return append(bindings, m.KeyMap.Quit)
}

type KeyMap struct {
	Quit key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "quit"),
		),
	}
}
