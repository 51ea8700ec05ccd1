package picker

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Represents an item in the picker list.
type Item interface {
	ID() int64
	Label() string
	Badge() string
}

// A picker is a component that can be used to show a list of
// values and have the user pick from them.
type Model struct {
	title string
	items []Item

	selected    int
	highlighted int
	focused     bool

	Width  int
	Height int

	Styles   Styles
	KeyMap   KeyMap
	Renderer *lipgloss.Renderer
}

func NewModel(title string, items []Item, width int, height int, renderer *lipgloss.Renderer) Model {
	return Model{
		title: title,
		items: items,

		Width:  width,
		Height: height,

		Styles:   DefaultStyles(renderer),
		KeyMap:   DefaultKeyMap(),
		Renderer: renderer,
	}
}

// Handle the focused-ness of the component.
func (m *Model) Focus() {
	m.focused = true
}

func (m *Model) Blur() {
	m.focused = false
}

func (m Model) IsFocused() bool {
	return m.focused
}

// Replaces the items. The selected and highlighted items are kept when
// they are still present.
func (m *Model) SetItems(items []Item) {
	selected := m.SelectedItem()
	highlighted := m.HighlightedItem()

	m.items = items
	m.selected = m.indexOf(selected)
	m.highlighted = m.indexOf(highlighted)
}

func (m Model) indexOf(item Item) int {
	if item == nil {
		return 0
	}
	for index, candidate := range m.items {
		if candidate.ID() == item.ID() {
			return index
		}
	}
	return 0
}

func (m Model) HasItems() bool {
	return len(m.items) > 0
}

func (m Model) SelectedItem() Item {
	if m.selected >= 0 && m.selected < len(m.items) {
		return m.items[m.selected]
	}
	return nil
}

func (m Model) HighlightedItem() Item {
	if m.highlighted >= 0 && m.highlighted < len(m.items) {
		return m.items[m.highlighted]
	}
	return nil
}

// Mark and return the current highlighted item as the selected item.
func (m *Model) Select() Item {
	m.selected = m.highlighted
	return m.SelectedItem()
}

func (m Model) clampedIndex(index int) int {
	if index < 0 {
		return 0
	}

	if index >= len(m.items) {
		return len(m.items) - 1
	}

	return index
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.IsFocused() && m.HasItems() {
			switch {
			case key.Matches(msg, m.KeyMap.GoToTop):
				m.highlighted = 0

			case key.Matches(msg, m.KeyMap.GoToLast):
				m.highlighted = len(m.items) - 1

			case key.Matches(msg, m.KeyMap.Up):
				m.highlighted = m.clampedIndex(m.highlighted - 1)

			case key.Matches(msg, m.KeyMap.Down):
				m.highlighted = m.clampedIndex(m.highlighted + 1)
			}
		}
	}

	return m, nil
}

func (m Model) View() string {
	lines := []string{}

	// Add a title to the widget.
	height := m.Height
	if m.title != "" {
		title := m.Styles.Title.Render(m.title)
		lines = append(lines, title)
		height -= lipgloss.Height(title)
	}
	if height < 1 {
		height = 1
	}

	// Keep the highlighted line visible.
	offset := 0
	if m.highlighted > height-1 {
		offset = m.highlighted - height + 1
	}
	end := offset + height
	if end > len(m.items) {
		end = len(m.items)
	}

	for index := offset; index < end; index++ {
		item := m.items[index]

		legend := " "
		if index == m.selected {
			legend = m.Styles.SelectedLegend.Render("┃")
		}

		// Leave room for the legend, a gap and the badge.
		badge := item.Badge()
		room := m.Width - 2
		if badge != "" {
			room -= runewidth.StringWidth(badge) + 1
		}
		label := runewidth.Truncate(item.Label(), room, "…")

		if index == m.highlighted && m.IsFocused() {
			label = m.Styles.Highlighted.Render(label)
		} else {
			label = m.Styles.Regular.Render(label)
		}

		line := lipgloss.JoinHorizontal(lipgloss.Left, legend, " ", label)

		if badge != "" {
			badge := m.Styles.Badge.Render(badge)
			space := m.Width - lipgloss.Width(line) - lipgloss.Width(badge)
			if space < 1 {
				space = 1
			}
			line = lipgloss.JoinHorizontal(
				lipgloss.Bottom,
				line,
				m.Renderer.NewStyle().Width(space).Render(),
				badge,
			)
		}

		lines = append(lines, line)
	}

	return m.Renderer.
		NewStyle().
		Width(m.Width).
		Render(lipgloss.JoinVertical(lipgloss.Top, lines...))
}

type Styles struct {
	Title          lipgloss.Style
	Badge          lipgloss.Style
	Regular        lipgloss.Style
	SelectedLegend lipgloss.Style
	Highlighted    lipgloss.Style
}

func DefaultStyles(renderer *lipgloss.Renderer) Styles {
	return Styles{
		Title:          renderer.NewStyle().PaddingLeft(2).Height(2),
		Badge:          renderer.NewStyle(),
		Regular:        renderer.NewStyle(),
		SelectedLegend: renderer.NewStyle().Bold(true),
		Highlighted:    renderer.NewStyle(),
	}
}

type KeyMap struct {
	GoToTop  key.Binding
	GoToLast key.Binding

	Up   key.Binding
	Down key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		GoToTop:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "first")),
		GoToLast: key.NewBinding(key.WithKeys("G"), key.WithHelp("G", "last")),

		Up:   key.NewBinding(key.WithKeys("k", "up", "ctrl+p"), key.WithHelp("k", "up")),
		Down: key.NewBinding(key.WithKeys("j", "down", "ctrl+n"), key.WithHelp("j", "down")),
	}
}
