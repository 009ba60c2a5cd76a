package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theirongolddev/ynabmon/internal/model"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinInterval keeps two calls per refresh well inside the hourly API quota.
	MinInterval = 30 * time.Second

	defaultInterval = "5m"
	defaultAddr     = "127.0.0.1:8787"
	defaultBuffer   = 200
)

// Config holds all ynabmon configuration.
type Config struct {
	YNAB       YNABConfig       `toml:"ynab" yaml:"ynab"`
	Sensors    SensorsConfig    `toml:"sensors" yaml:"sensors"`
	Daemon     DaemonConfig     `toml:"daemon" yaml:"daemon"`
	Events     EventsConfig     `toml:"events" yaml:"events"`
	Appearance AppearanceConfig `toml:"appearance" yaml:"appearance"`
}

// YNABConfig holds API access settings.
type YNABConfig struct {
	APIToken   string `toml:"api_token,omitempty" yaml:"api_token,omitempty"`
	BudgetID   string `toml:"budget_id" yaml:"budget_id"`
	BudgetName string `toml:"budget_name,omitempty" yaml:"budget_name,omitempty"`
	BaseURL    string `toml:"api_url,omitempty" yaml:"api_url,omitempty"`
}

// SensorsConfig selects which accounts and categories get sensors.
type SensorsConfig struct {
	Categories    []string `toml:"categories,omitempty" yaml:"categories,omitempty"`
	CategoriesAll bool     `toml:"categories_all" yaml:"categories_all"`
	Accounts      []string `toml:"accounts,omitempty" yaml:"accounts,omitempty"`
	AccountsAll   bool     `toml:"accounts_all" yaml:"accounts_all"`
}

// DaemonConfig controls the background service.
type DaemonConfig struct {
	Addr         string `toml:"addr" yaml:"addr"`
	Interval     string `toml:"interval" yaml:"interval"`
	EventsBuffer int    `toml:"events_buffer" yaml:"events_buffer"`
	Timezone     string `toml:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// EventsConfig configures optional broker publication.
type EventsConfig struct {
	AMQPURL      string `toml:"amqp_url,omitempty" yaml:"amqp_url,omitempty"`
	AMQPExchange string `toml:"amqp_exchange,omitempty" yaml:"amqp_exchange,omitempty"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme" yaml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			Addr:         defaultAddr,
			Interval:     defaultInterval,
			EventsBuffer: defaultBuffer,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ynabmon")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ynabmon")
}

// ConfigPath returns the full path to the default config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the default config file. See LoadFile.
func Load() (Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads path, returning defaults if it doesn't exist. Files ending
// in .yaml or .yml are decoded as YAML, anything else as TOML. Values from
// the environment, including a .env file in the working directory, win over
// the file.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user
	switch {
	case err == nil:
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return toml.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("YNAB_API_TOKEN"); v != "" {
		cfg.YNAB.APIToken = v
	}
	if v := os.Getenv("YNAB_BUDGET_ID"); v != "" {
		cfg.YNAB.BudgetID = v
	}
	if v := os.Getenv("YNAB_API_URL"); v != "" {
		cfg.YNAB.BaseURL = v
	}
	if v := os.Getenv("YNABMON_AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
	}
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveFile(ConfigPath(), cfg)
}

// SaveFile writes the config to path in the format its extension implies.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path comes from the user
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Selection returns the account and category selection for the budget.
func (c Config) Selection() model.Selection {
	return model.Selection{
		BudgetID:      c.YNAB.BudgetID,
		Categories:    c.Sensors.Categories,
		CategoriesAll: c.Sensors.CategoriesAll,
		Accounts:      c.Sensors.Accounts,
		AccountsAll:   c.Sensors.AccountsAll,
	}
}

// PollInterval parses the daemon interval, falling back to the default.
func (c Config) PollInterval() (time.Duration, error) {
	raw := c.Daemon.Interval
	if raw == "" {
		raw = defaultInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", raw, err)
	}
	return d, nil
}

// Location returns the zone the current month is evaluated in. Nil means
// the local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Daemon.Timezone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(c.Daemon.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Daemon.Timezone, err)
	}
	return loc, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.YNAB.APIToken) == "" {
		problems = append(problems, "ynab.api_token is required (or set YNAB_API_TOKEN)")
	}
	if strings.TrimSpace(c.YNAB.BudgetID) == "" {
		problems = append(problems, "ynab.budget_id is required (or set YNAB_BUDGET_ID)")
	}

	if d, err := c.PollInterval(); err != nil {
		problems = append(problems, err.Error())
	} else if d < MinInterval {
		problems = append(problems, fmt.Sprintf("interval %s is below the minimum of %s", d, MinInterval))
	}

	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}

	if c.Daemon.EventsBuffer < 0 {
		problems = append(problems, fmt.Sprintf("events_buffer %d must not be negative", c.Daemon.EventsBuffer))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
