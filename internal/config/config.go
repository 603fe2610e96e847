package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-project config file searched upward from the working directory
const LocalConfigName = ".codex-orch.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Store         StoreConfig         `toml:"store"`
	Git           GitConfig           `toml:"git"`
	Agent         AgentConfig         `toml:"agent"`
	Logs          LogsConfig          `toml:"logs"`
	Web           WebConfig           `toml:"web"`
	Logging       LoggingConfig       `toml:"logging"`
	Events        EventsConfig        `toml:"events"`
	Notifications NotificationsConfig `toml:"notifications"`
	Maintenance   MaintenanceConfig   `toml:"maintenance"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	// Home is the root of envs/ and tasks/
	Home string `toml:"home"`
}

// StoreConfig selects the task record backend
type StoreConfig struct {
	Backend      string `toml:"backend"`
	DatabasePath string `toml:"database_path"`
}

// GitConfig holds git CLI settings
type GitConfig struct {
	Binary string `toml:"binary"`
}

// AgentConfig describes how the agent subprocess is launched
type AgentConfig struct {
	Command   string   `toml:"command"`
	Args      []string `toml:"args"`
	StopGrace Duration `toml:"stop_grace"`
	Image     string   `toml:"image"`
}

// LogsConfig holds log streaming settings
type LogsConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	TailLines    int      `toml:"tail_lines"`
	// Notify wakes subscribers early on filesystem write events
	Notify bool `toml:"notify"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// LoggingConfig holds process log settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	OutputPath string `toml:"output_path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// EventsConfig holds lifecycle event publishing settings
type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// MaintenanceConfig holds periodic housekeeping settings
type MaintenanceConfig struct {
	// RefreshCron is a standard 5-field cron expression; empty disables it
	RefreshCron string `toml:"refresh_cron"`
}

// Duration is a time.Duration that reads and writes "5s" style strings
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	orchHome := filepath.Join(home, ".codex-orchestrator")
	return &Config{
		General: GeneralConfig{
			Home: orchHome,
		},
		Store: StoreConfig{
			Backend:      "file",
			DatabasePath: filepath.Join(orchHome, "orchestrator.db"),
		},
		Git: GitConfig{
			Binary: "git",
		},
		Agent: AgentConfig{
			Command:   "codex",
			Args:      []string{"exec", "--dangerously-bypass-approvals-and-sandbox"},
			StopGrace: Duration(5 * time.Second),
			Image:     "ghcr.io/openai/codex-universal:latest",
		},
		Logs: LogsConfig{
			PollInterval: Duration(time.Second),
			TailLines:    120,
			Notify:       true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Events: EventsConfig{
			SubjectPrefix: "codex",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyEnv(cfg)

	cfg.General.Home = ExpandPath(cfg.General.Home)
	cfg.Store.DatabasePath = ExpandPath(cfg.Store.DatabasePath)
	cfg.Logging.OutputPath = ExpandPath(cfg.Logging.OutputPath)

	return cfg, nil
}

// LoadWithLocalFallback loads path if set, else a local config found upward
// from the working directory, else the default config location.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("ORCH_HOME"); ok && v != "" {
		cfg.General.Home = v
		cfg.Store.DatabasePath = filepath.Join(v, "orchestrator.db")
	}
	if v, ok := os.LookupEnv("ORCH_AGENT_COMMAND"); ok && v != "" {
		cfg.Agent.Command = v
	}
	if v, ok := os.LookupEnv("ORCH_NATS_URL"); ok {
		cfg.Events.NATSURL = v
	}
	if v, ok := os.LookupEnv("ORCH_LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks settings that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.backend: unknown backend %q (want file or sqlite)", c.Store.Backend)
	}
	if c.General.Home == "" {
		return fmt.Errorf("general.home must be set")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command must be set")
	}
	if c.Agent.StopGrace <= 0 {
		return fmt.Errorf("agent.stop_grace must be positive")
	}
	if c.Logs.PollInterval <= 0 {
		return fmt.Errorf("logs.poll_interval must be positive")
	}
	if c.Logs.TailLines < 0 {
		return fmt.Errorf("logs.tail_lines must not be negative")
	}
	return nil
}

// Addr returns the host:port the API server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "codex-orchestrator", "config.toml")
}
