package colors

import "github.com/charmbracelet/lipgloss"

type ColorPalette struct {
	Accent lipgloss.Color
	Muted  lipgloss.Color
	Text   lipgloss.Color
	Danger lipgloss.Color
}

func DefaultDarkColorPalette() ColorPalette {
	return ColorPalette{
		Accent: lipgloss.Color("212"),
		Muted:  lipgloss.Color("244"),
		Text:   lipgloss.Color("255"),
		Danger: lipgloss.Color("9"),
	}
}

func DefaultLightColorPalette() ColorPalette {
	return ColorPalette{
		Accent: lipgloss.Color("162"),
		Muted:  lipgloss.Color("244"),
		Text:   lipgloss.Color("0"),
		Danger: lipgloss.Color("1"),
	}
}

// Picks the palette matching the terminal behind the renderer.
func ForRenderer(renderer *lipgloss.Renderer) ColorPalette {
	if renderer.HasDarkBackground() {
		return DefaultDarkColorPalette()
	}
	return DefaultLightColorPalette()
}
