package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/ksdme/mailvault/internal/tui/colors"
)

// Renders the enabled bindings as "key desc" pairs. Pairs wrap onto a new
// line once they would exceed width, a width of zero never wraps.
func View(bindings []key.Binding, width int, renderer *lipgloss.Renderer, palette colors.ColorPalette) string {
	keyStyle := renderer.NewStyle().Foreground(palette.Text).PaddingRight(1)
	descStyle := renderer.NewStyle().Foreground(palette.Muted)
	separator := renderer.NewStyle().Foreground(palette.Muted).Render(" • ")

	var lines []string
	var line string
	for _, binding := range bindings {
		help := binding.Help()
		if !binding.Enabled() || help.Key == "" || help.Desc == "" {
			continue
		}

		item := keyStyle.Render(help.Key) + descStyle.Render(help.Desc)
		switch {
		case line == "":
			line = item
		case width > 0 && lipgloss.Width(line)+lipgloss.Width(separator)+lipgloss.Width(item) > width:
			lines = append(lines, line)
			line = item
		default:
			line += separator + item
		}
	}
	if line != "" {
		lines = append(lines, line)
	}

	return renderer.NewStyle().MarginTop(1).Render(strings.Join(lines, "\n"))
}
