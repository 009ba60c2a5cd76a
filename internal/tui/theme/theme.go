// Package theme defines color themes for the ynabmon watch view.
package theme

import "github.com/charmbracelet/lipgloss"

// Theme defines the color roles used throughout the TUI.
type Theme struct {
	Name        string
	Surface     lipgloss.Color // Card/panel backgrounds
	Border      lipgloss.Color // Subtle borders
	TextDim     lipgloss.Color // Lowest contrast text (hints, disabled)
	TextMuted   lipgloss.Color // Secondary text (labels, metadata)
	TextPrimary lipgloss.Color // Primary content text
	Accent      lipgloss.Color // Titles, spinner
	Positive    lipgloss.Color // Money left to assign, healthy state
	Negative    lipgloss.Color // Overspending, errors
	Warning     lipgloss.Color // Stale data, pending approvals
}

// Active is the currently selected theme.
var Active = FlexokiDark

// FlexokiDark is the default theme.
var FlexokiDark = Theme{
	Name:        "flexoki-dark",
	Surface:     lipgloss.Color("#1C1B1A"),
	Border:      lipgloss.Color("#403E3C"),
	TextDim:     lipgloss.Color("#575653"),
	TextMuted:   lipgloss.Color("#878580"),
	TextPrimary: lipgloss.Color("#FFFCF0"),
	Accent:      lipgloss.Color("#3AA99F"),
	Positive:    lipgloss.Color("#879A39"),
	Negative:    lipgloss.Color("#D14D41"),
	Warning:     lipgloss.Color("#DA702C"),
}

// TokyoNight is a cool blue/purple theme.
var TokyoNight = Theme{
	Name:        "tokyo-night",
	Surface:     lipgloss.Color("#24283B"),
	Border:      lipgloss.Color("#565F89"),
	TextDim:     lipgloss.Color("#565F89"),
	TextMuted:   lipgloss.Color("#A9B1D6"),
	TextPrimary: lipgloss.Color("#C0CAF5"),
	Accent:      lipgloss.Color("#7AA2F7"),
	Positive:    lipgloss.Color("#9ECE6A"),
	Negative:    lipgloss.Color("#F7768E"),
	Warning:     lipgloss.Color("#FF9E64"),
}

// Terminal uses ANSI 16 colors only.
var Terminal = Theme{
	Name:        "terminal",
	Surface:     lipgloss.Color("0"),
	Border:      lipgloss.Color("8"),
	TextDim:     lipgloss.Color("8"),
	TextMuted:   lipgloss.Color("7"),
	TextPrimary: lipgloss.Color("15"),
	Accent:      lipgloss.Color("6"),
	Positive:    lipgloss.Color("2"),
	Negative:    lipgloss.Color("1"),
	Warning:     lipgloss.Color("3"),
}

// All available themes.
var All = []Theme{FlexokiDark, TokyoNight, Terminal}

// Names lists the available theme names.
func Names() []string {
	names := make([]string, len(All))
	for i, t := range All {
		names[i] = t.Name
	}
	return names
}

// ByName returns a theme by its name, defaulting to FlexokiDark.
func ByName(name string) Theme {
	for _, t := range All {
		if t.Name == name {
			return t
		}
	}
	return FlexokiDark
}

// SetActive sets the active theme by name.
func SetActive(name string) {
	Active = ByName(name)
}
