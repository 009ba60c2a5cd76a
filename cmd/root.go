// Package cmd implements the ynabmon CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/ynabmon/internal/config"
	"github.com/theirongolddev/ynabmon/internal/coordinator"
	"github.com/theirongolddev/ynabmon/internal/events"
	"github.com/theirongolddev/ynabmon/internal/ynab"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDebug  bool
	flagQuiet  bool

	logger = log.New(os.Stderr)
)

var rootCmd = &cobra.Command{
	Use:   "ynabmon",
	Short: "YNAB budget monitor",
	Long:  "Poll a YNAB budget, expose its figures as sensors, and watch them from the terminal.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger = newLogger(os.Stderr)
	},
	RunE:          runStatus,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

func newLogger(w io.Writer) *log.Logger {
	level := log.InfoLevel
	switch {
	case flagDebug:
		level = log.DebugLevel
	case flagQuiet:
		level = log.WarnLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "ynabmon",
	})
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.ConfigPath()
}

// loadConfig reads the active config file and fails on anything that would
// prevent polling.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w\n\n  Run `ynabmon setup` or edit %s", err, configPath())
	}
	return cfg, nil
}

func newClient(cfg config.Config) (*ynab.Client, error) {
	client := ynab.NewClient(cfg.YNAB.APIToken, ynab.WithBaseURL(cfg.YNAB.BaseURL))
	if client == nil {
		return nil, errors.New("no YNAB access token configured")
	}
	return client, nil
}

// newCoordinator wires a coordinator from cfg. publisher may be nil.
func newCoordinator(cfg config.Config, publisher events.Publisher, l *log.Logger) (*coordinator.Coordinator, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	interval, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return coordinator.New(client, cfg.Selection(),
		coordinator.WithInterval(interval),
		coordinator.WithLocation(loc),
		coordinator.WithPublisher(publisher),
		coordinator.WithLogger(l),
	), nil
}

func stateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "ynabmon")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "ynabmon")
}
