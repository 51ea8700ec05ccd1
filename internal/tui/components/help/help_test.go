package help

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/ksdme/mailvault/internal/tui/colors"
	"github.com/stretchr/testify/assert"
)

func bindings() []key.Binding {
	disabled := key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "hidden"))
	disabled.SetEnabled(false)

	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		disabled,
		key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "favorite")),
		key.NewBinding(key.WithKeys("d")),
		key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
	}
}

func TestView(t *testing.T) {
	renderer := lipgloss.NewRenderer(&bytes.Buffer{})
	view := View(bindings(), 0, renderer, colors.DefaultDarkColorPalette())

	// The top margin is a blank line padded to the block's width.
	lines := strings.Split(view, "\n")
	assert.Equal(t, []string{"", "enter open • f favorite • q quit"}, trimmed(lines))
	assert.NotContains(t, view, "hidden")
}

func TestViewWraps(t *testing.T) {
	renderer := lipgloss.NewRenderer(&bytes.Buffer{})
	view := View(bindings(), 20, renderer, colors.DefaultDarkColorPalette())

	lines := strings.Split(view, "\n")[1:]
	assert.Equal(t, []string{"enter open", "f favorite • q quit"}, trimmed(lines))
}

func trimmed(lines []string) []string {
	for index, line := range lines {
		lines[index] = strings.TrimRight(line, " ")
	}
	return lines
}
