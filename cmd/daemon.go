package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/theirongolddev/ynabmon/internal/cli"
	"github.com/theirongolddev/ynabmon/internal/config"
	"github.com/theirongolddev/ynabmon/internal/daemon"
	"github.com/theirongolddev/ynabmon/internal/events"
	"github.com/theirongolddev/ynabmon/internal/sensor"

	"github.com/spf13/cobra"
)

var (
	flagDaemonAddr         string
	flagDaemonInterval     time.Duration
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Poll the budget in the background and serve sensors over HTTP/SSE",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(stateDir(), "ynabmond.pid")
	defaultLog := filepath.Join(stateDir(), "ynabmond.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "", "HTTP listen address (default from config)")
	daemonCmd.PersistentFlags().DurationVar(&flagDaemonInterval, "interval", 0, "Polling interval (default from config)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (default from config)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}

	return runDaemonForeground()
}

func startDaemonDetached() error {
	// Fail in the parent on bad config instead of in a log file.
	if _, err := loadDaemonConfig(); err != nil {
		return err
	}
	if err := daemon.EnsureNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagDaemonPIDFile)
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

// loadDaemonConfig loads the config with command line overrides applied.
func loadDaemonConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if flagDaemonInterval > 0 {
		cfg.Daemon.Interval = flagDaemonInterval.String()
	}
	if flagDaemonAddr != "" {
		cfg.Daemon.Addr = flagDaemonAddr
	}
	if flagDaemonEventsBuffer > 0 {
		cfg.Daemon.EventsBuffer = flagDaemonEventsBuffer
	}
	return cfg, cfg.Validate()
}

func runDaemonForeground() error {
	if err := daemon.EnsureNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	cfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Daemon.EventsBuffer)
	publishers := events.Fanout{bus}
	if cfg.Events.AMQPURL != "" {
		amqp, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer func() { _ = amqp.Close() }()
		publishers = append(publishers, amqp)
	}

	coord, err := newCoordinator(cfg, publishers, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	pid := os.Getpid()
	if err := daemon.WritePID(flagDaemonPIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonPIDFile) }()

	state := daemon.RuntimeState{
		PID:        pid,
		Addr:       cfg.Daemon.Addr,
		StartedAt:  time.Now(),
		BudgetID:   cfg.YNAB.BudgetID,
		ConfigPath: configPath(),
	}
	statePath := daemon.StatePath(flagDaemonPIDFile)
	_ = daemon.WriteState(statePath, state)
	defer func() { _ = os.Remove(statePath) }()

	svc := daemon.New(daemon.Config{
		Addr: cfg.Daemon.Addr,
		Sensors: sensor.Options{
			BudgetID:   cfg.YNAB.BudgetID,
			BudgetName: cfg.YNAB.BudgetName,
			Selection:  cfg.Selection(),
		},
	}, coord, bus, logger)

	logger.Info("starting",
		"budget", cfg.YNAB.BudgetID,
		"interval", coord.Interval(),
		"api", "http://"+cfg.Daemon.Addr+"/v1/status",
	)
	logger.Info("stop with: ynabmon daemon stop --pid-file " + flagDaemonPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	pid, err := daemon.ReadPID(flagDaemonPIDFile)
	if err != nil {
		fmt.Printf("  Daemon: not running (pid file not found)\n")
		return nil
	}

	if !daemon.ProcessAlive(pid) {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := flagDaemonAddr
	if st, err := daemon.ReadState(daemon.StatePath(flagDaemonPIDFile)); err == nil && st.Addr != "" {
		addr = st.Addr
	}
	if addr == "" {
		addr = "127.0.0.1:8787"
	}

	fmt.Printf("  Daemon PID: %d\n", pid)
	fmt.Printf("  Address: http://%s\n", addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/status") //nolint:noctx // short status request
	if err != nil {
		fmt.Printf("  API status: unreachable (%v)\n", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("  API status: HTTP %d\n", resp.StatusCode)
		return nil
	}

	var st daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Printf("  API status: malformed response (%v)\n", err)
		return nil
	}

	health := cli.OKStyle.Render("ok")
	if !st.Refresh.Available {
		health = cli.WarnStyle.Render("stale")
	}
	fmt.Printf("  Budget: %s (%s)\n", st.BudgetID, health)
	if st.Refresh.LastRefreshAt.IsZero() {
		fmt.Printf("  Last refresh: pending\n")
	} else {
		fmt.Printf("  Last refresh: %s\n", st.Refresh.LastRefreshAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("  Refresh count: %d (every %ds)\n", st.Refresh.RefreshCount, st.Refresh.IntervalSec)
	fmt.Printf("  Sensors: %d\n", st.SensorCount)
	fmt.Printf("  Stream subscribers: %d\n", st.SubscriberCount)
	if s := st.Summary; s != nil {
		fmt.Printf("  Month: %s\n", cli.FormatMonth(s.Month))
		fmt.Printf("  To be budgeted: %s %s\n", s.ToBeBudgeted, s.CurrencyCode)
		fmt.Printf("  Total balance: %s %s\n", s.TotalBalance, s.CurrencyCode)
	}
	if !st.Refresh.Available && st.Refresh.LastError != "" {
		fmt.Printf("  Last error: %s\n", cli.WarnStyle.Render(st.Refresh.LastError))
	}
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pid, err := daemon.ReadPID(flagDaemonPIDFile)
	if err != nil {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.ProcessAlive(pid) {
			_ = os.Remove(flagDaemonPIDFile)
			_ = os.Remove(daemon.StatePath(flagDaemonPIDFile))
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}
