// Package config loads the daemon configuration from a YAML file, with
// environment overrides for the secrets so they can stay out of the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	// Upstream portal credentials.
	UpstreamBaseURL  string `yaml:"upstream_base_url"`
	UpstreamEmail    string `yaml:"upstream_email"`
	UpstreamPassword string `yaml:"upstream_password"`

	// Telegram delivery and control.
	TelegramToken string  `yaml:"telegram_token"`
	ChatIDs       []int64 `yaml:"chat_ids"`
	AdminIDs      []int64 `yaml:"admin_ids"`

	// DryRun replaces real delivery with log-only delivery. Everything
	// else, including dedup bookkeeping, still runs.
	DryRun bool `yaml:"dry_run"`

	// Poll loop tuning.
	PollIntervalSecs int `yaml:"poll_interval_secs"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs"`
	RetryCeiling     int `yaml:"retry_ceiling"`
	BackoffBaseSecs  int `yaml:"backoff_base_secs"`

	// Session tuning.
	MaxSessionAgeMins int `yaml:"max_session_age_mins"`

	// Housekeeping.
	RetentionDays     int    `yaml:"retention_days"`
	HeartbeatSchedule string `yaml:"heartbeat_schedule"`

	// Storage and logging.
	DBPath   string `yaml:"db_path"`
	LogDir   string `yaml:"log_dir"`
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from the environment or the
// default location.
func GetConfigPath() string {
	if path := os.Getenv("OTPWATCH_CONFIG"); path != "" {
		return path
	}

	return "./otpwatch.yaml"
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// FetchTimeout returns the fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// BackoffBase returns the backoff base delay as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSecs) * time.Second
}

// MaxSessionAge returns the proactive re-login horizon as a duration.
func (c *Config) MaxSessionAge() time.Duration {
	return time.Duration(c.MaxSessionAgeMins) * time.Minute
}

// Retention returns the record retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.PollIntervalSecs == 0 {
		cfg.PollIntervalSecs = 45
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 60
	}
	if cfg.RetryCeiling == 0 {
		cfg.RetryCeiling = 10
	}
	if cfg.BackoffBaseSecs == 0 {
		cfg.BackoffBaseSecs = 30
	}
	if cfg.MaxSessionAgeMins == 0 {
		cfg.MaxSessionAgeMins = 360
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./otpwatch.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// applyEnvironmentOverrides lets the secrets and a few deploy-specific knobs
// come from the environment instead of the file.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("OTPWATCH_UPSTREAM_EMAIL"); v != "" {
		cfg.UpstreamEmail = v
	}
	if v := os.Getenv("OTPWATCH_UPSTREAM_PASSWORD"); v != "" {
		cfg.UpstreamPassword = v
	}
	if v := os.Getenv("OTPWATCH_TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("OTPWATCH_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("OTPWATCH_DRY_RUN"); v != "" {
		cfg.DryRun = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTPWATCH_CHAT_IDS"); v != "" {
		if ids, err := parseIDList(v); err == nil {
			cfg.ChatIDs = ids
		}
	}
}

func parseIDList(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func validate(cfg *Config) error {
	if cfg.UpstreamEmail == "" {
		return fmt.Errorf("upstream_email is required")
	}
	if cfg.UpstreamPassword == "" {
		return fmt.Errorf("upstream_password is required")
	}

	// A dry run needs no Telegram wiring; a real run needs both a token
	// and somewhere to deliver.
	if !cfg.DryRun {
		if cfg.TelegramToken == "" {
			return fmt.Errorf("telegram_token is required unless " +
				"dry_run is set")
		}
		if len(cfg.ChatIDs) == 0 {
			return fmt.Errorf("at least one chat_id is required " +
				"unless dry_run is set")
		}
	}

	if cfg.PollIntervalSecs < 5 {
		return fmt.Errorf("poll_interval_secs must be at least 5, "+
			"got %d", cfg.PollIntervalSecs)
	}
	if cfg.RetryCeiling < 1 {
		return fmt.Errorf("retry_ceiling must be positive, got %d",
			cfg.RetryCeiling)
	}
	if cfg.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be positive, got %d",
			cfg.RetentionDays)
	}

	return nil
}
