// Package tui provides the live Bubble Tea watch view for ynabmon.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/ynabmon/internal/cli"
	"github.com/theirongolddev/ynabmon/internal/coordinator"
	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/sensor"
	"github.com/theirongolddev/ynabmon/internal/tui/components"
	"github.com/theirongolddev/ynabmon/internal/tui/theme"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SnapshotMsg carries a freshly published snapshot into the program.
type SnapshotMsg struct {
	Snapshot *model.Snapshot
}

type refreshDoneMsg struct {
	err error
}

type tickMsg time.Time

// Backend is what the watch view reads from and triggers refreshes on.
type Backend interface {
	Refresh(ctx context.Context) (*model.Snapshot, error)
	Status() coordinator.Status
}

// StateSource lists sensor states.
type StateSource interface {
	States() []sensor.State
}

const (
	defaultWidth = 100
	minWidth     = 60
	maxWidth     = 140
	refreshLimit = 60 * time.Second
)

// Watch is the root Bubble Tea model of the watch command.
type Watch struct {
	backend Backend
	sensors StateSource
	now     func() time.Time

	snap       *model.Snapshot
	states     []sensor.State
	status     coordinator.Status
	refreshing bool
	lastErr    error

	spinner spinner.Model
	width   int
}

// NewWatch returns a watch model. It shows a spinner until the first
// SnapshotMsg arrives.
func NewWatch(backend Backend, sensors StateSource) Watch {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	return Watch{
		backend: backend,
		sensors: sensors,
		now:     time.Now,
		spinner: sp,
		width:   defaultWidth,
	}
}

// Notify returns an observer that forwards snapshots to p.
func Notify(p *tea.Program) coordinator.Observer {
	return coordinator.ObserverFunc(func(s *model.Snapshot) {
		p.Send(SnapshotMsg{Snapshot: s})
	})
}

// Init implements tea.Model.
func (w Watch) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshLimit)
		defer cancel()
		_, err := b.Refresh(ctx)
		return refreshDoneMsg{err: err}
	}
}

// Update implements tea.Model.
func (w Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return w, tea.Quit
		case "r":
			if w.refreshing || w.backend == nil {
				return w, nil
			}
			w.refreshing = true
			return w, tea.Batch(refreshCmd(w.backend), w.spinner.Tick)
		}
		return w, nil

	case tea.WindowSizeMsg:
		w.width = min(max(msg.Width, minWidth), maxWidth)
		return w, nil

	case SnapshotMsg:
		w.snap = msg.Snapshot
		if w.sensors != nil {
			w.states = w.sensors.States()
		}
		w.lastErr = nil
		return w, nil

	case refreshDoneMsg:
		w.refreshing = false
		w.lastErr = msg.err
		return w, nil

	case tickMsg:
		if w.backend != nil {
			w.status = w.backend.Status()
		}
		return w, tickCmd()

	case spinner.TickMsg:
		if w.snap == nil || w.refreshing {
			var cmd tea.Cmd
			w.spinner, cmd = w.spinner.Update(msg)
			return w, cmd
		}
		return w, nil
	}
	return w, nil
}

// View implements tea.Model.
func (w Watch) View() string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted)

	if w.snap == nil {
		var b strings.Builder
		b.WriteString("\n  ")
		b.WriteString(w.spinner.View())
		b.WriteString(muted.Render(" Waiting for first budget refresh..."))
		if w.status.LastError != "" {
			b.WriteString("\n\n  ")
			b.WriteString(lipgloss.NewStyle().Foreground(t.Negative).Render(w.status.LastError))
		}
		b.WriteString("\n")
		return b.String()
	}

	s := w.snap

	title := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).
		Render(fmt.Sprintf(" %s  %s", s.BudgetName, cli.FormatMonth(s.Month)))
	if w.refreshing {
		title += "  " + w.spinner.View()
	}

	top := components.MetricRow([]components.Metric{
		{Label: "To be budgeted", Value: cli.FormatAmount(s.ToBeBudgeted, s.CurrencyCode, s.CurrencyDigits), Tone: signTone(s.ToBeBudgeted.Sign())},
		{Label: "Budgeted this month", Value: cli.FormatAmount(s.BudgetedThisMonth, s.CurrencyCode, s.CurrencyDigits)},
		{Label: "Activity this month", Value: cli.FormatAmount(s.ActivityThisMonth, s.CurrencyCode, s.CurrencyDigits)},
		{Label: "Age of money", Value: cli.FormatAge(s.AgeOfMoney)},
	}, w.width)

	bottom := components.MetricRow([]components.Metric{
		{Label: "Total balance", Value: cli.FormatAmount(s.TotalBalance, s.CurrencyCode, s.CurrencyDigits), Note: "on-budget accounts"},
		{Label: "Need approval", Value: fmt.Sprintf("%d", s.NeedApproval), Tone: countTone(s.NeedApproval, components.ToneWarning)},
		{Label: "Uncleared", Value: fmt.Sprintf("%d", s.UnclearedTransactions)},
		{Label: "Overspent categories", Value: fmt.Sprintf("%d", s.OverspentCategories), Tone: countTone(s.OverspentCategories, components.ToneNegative)},
	}, w.width)

	parts := []string{"", title, top, bottom}
	if len(w.states) > 0 {
		parts = append(parts, components.ContentCard("Sensors", w.renderSensors(), w.width))
	}
	parts = append(parts, w.renderStatus())
	return strings.Join(parts, "\n")
}

func (w Watch) renderSensors() string {
	t := theme.Active
	inner := components.CardInnerWidth(w.width)
	valueW := 16
	nameW := max(inner-valueW-3, 10)

	var b strings.Builder
	for i, st := range w.states {
		if i > 0 {
			b.WriteString("\n")
		}
		name := st.Name
		if r := []rune(name); len(r) > nameW {
			name = string(r[:nameW-1]) + "…"
		}
		value := cli.FormatAmount(st.Value, st.Unit, st.Precision)

		style := lipgloss.NewStyle().Foreground(t.TextPrimary)
		marker := " "
		switch {
		case !st.Available:
			style = style.Foreground(t.TextDim)
			marker = "?"
		case st.Value.IsNegative():
			style = style.Foreground(t.Negative)
		}
		b.WriteString(style.Render(fmt.Sprintf("%-*s %*s %s", nameW, name, valueW, value, marker)))
	}
	return b.String()
}

func (w Watch) renderStatus() string {
	right := "updated " + cli.FormatAgo(w.snap.FetchedAt, w.now())
	stale := false
	switch {
	case w.lastErr != nil:
		right = "refresh failed: " + w.lastErr.Error()
		stale = true
	case w.status.LastError != "":
		right = "data source unavailable, showing " + right
		stale = true
	}
	return components.RenderStatusBar(w.width, right, stale)
}

func signTone(sign int) components.Tone {
	switch {
	case sign > 0:
		return components.TonePositive
	case sign < 0:
		return components.ToneNegative
	default:
		return components.ToneNormal
	}
}

func countTone(n int, tone components.Tone) components.Tone {
	if n > 0 {
		return tone
	}
	return components.ToneNormal
}
