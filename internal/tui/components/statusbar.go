package components

import (
	"strings"

	"github.com/theirongolddev/ynabmon/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

// RenderStatusBar renders the bottom bar with key hints on the left and
// right-aligned freshness info.
func RenderStatusBar(width int, right string, stale bool) string {
	t := theme.Active

	left := " [r]efresh  [q]uit"
	if right != "" {
		right += " "
	}

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)

	rightStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	if stale {
		rightStyle = rightStyle.Foreground(t.Warning)
	}

	return lipgloss.NewStyle().Foreground(t.TextMuted).Render(left+strings.Repeat(" ", gap)) +
		rightStyle.Render(right)
}
