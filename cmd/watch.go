package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/theirongolddev/ynabmon/internal/sensor"
	"github.com/theirongolddev/ynabmon/internal/tui"
	"github.com/theirongolddev/ynabmon/internal/tui/theme"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var flagWatchLogFile string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal dashboard of the budget month",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagWatchLogFile, "log-file", "", "Write logs to this file while the dashboard runs")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	theme.SetActive(cfg.Appearance.Theme)

	// Force TrueColor profile so all background styling produces ANSI codes
	// Without this, lipgloss may default to Ascii profile (no colors)
	lipgloss.SetColorProfile(termenv.TrueColor)

	// Anything written to stderr would tear the alt screen.
	var logOut io.Writer = io.Discard
	if flagWatchLogFile != "" {
		//nolint:gosec // log path is configured by the local user
		f, err := os.OpenFile(flagWatchLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	watchLogger := newLogger(logOut)

	coord, err := newCoordinator(cfg, nil, watchLogger)
	if err != nil {
		return err
	}
	reg := sensor.NewRegistry()
	defer reg.Close()

	p := tea.NewProgram(tui.NewWatch(coord, reg), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if _, err := coord.FirstRefresh(ctx); err != nil {
			return
		}
		opts := sensor.Options{
			BudgetID:   cfg.YNAB.BudgetID,
			BudgetName: cfg.YNAB.BudgetName,
			Selection:  cfg.Selection(),
		}
		if err := reg.Setup(coord, opts); err != nil {
			watchLogger.Warn("sensor setup incomplete", "err", err)
		}
		if _, err := coord.Register(tui.Notify(p)); err != nil {
			watchLogger.Error("register dashboard", "err", err)
			return
		}
		if err := coord.Run(ctx); err != nil {
			watchLogger.Error("poll loop stopped", "err", err)
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
