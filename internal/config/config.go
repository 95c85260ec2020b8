package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that reads and writes as a TOML string ("5m", "100ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the global ~/.taklif/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance"`

	Backend    Backend    `toml:"backend"`
	Retry      Retry      `toml:"retry"`
	Store      Store      `toml:"store"`
	Sync       Sync       `toml:"sync"`
	Validation Validation `toml:"validation"`
	Bot        Bot        `toml:"bot"`
	Outbox     Outbox     `toml:"outbox"`
	Journal    Journal    `toml:"journal"`
	Metrics    Metrics    `toml:"metrics"`
	Log        Log        `toml:"log"`
}

// Backend configures the domain and auth backends.
type Backend struct {
	BaseURL         string   `toml:"base_url"`
	AuthBaseURL     string   `toml:"auth_base_url"`
	Timeout         Duration `toml:"timeout"`
	AuthTimeout     Duration `toml:"auth_timeout"`
	HealthTimeout   Duration `toml:"health_timeout"`
	ServiceUsername string   `toml:"service_username"`
	ServicePassword string   `toml:"service_password"`
	RateLimitRPS    float64  `toml:"rate_limit_rps"`
	RateBurst       int      `toml:"rate_burst"`
}

// Retry configures the caller-layer retry wrapper.
type Retry struct {
	Attempts int      `toml:"attempts"`
	Delay    Duration `toml:"delay"`
}

// Store configures the durable local store.
type Store struct {
	DataDir         string   `toml:"data_dir"`
	BackupRetention int      `toml:"backup_retention"`
	LockAttempts    int      `toml:"lock_attempts"`
	LockDelay       Duration `toml:"lock_delay"`
}

// Sync configures the reconciliation scheduler.
type Sync struct {
	Interval    Duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
}

// Validation holds user-input limits enforced by the dialog.
type Validation struct {
	MinMessageLength int `toml:"min_message_length"`
	MaxMessageLength int `toml:"max_message_length"`
	MaxNameLength    int `toml:"max_name_length"`
	MinNameWords     int `toml:"min_name_words"`
}

// Bot configures the chat front-end.
type Bot struct {
	Link                 string   `toml:"link"`
	SessionIdleTimeout   Duration `toml:"session_idle_timeout"`
	SessionErrorTimeout  Duration `toml:"session_error_timeout"`
	SessionSweepInterval Duration `toml:"session_sweep_interval"`
}

// Outbox configures redelivery of bot replies that could not be sent.
type Outbox struct {
	Interval    Duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
}

// Journal configures the sync journal database.
type Journal struct {
	RetentionDays int `toml:"retention_days"`
}

// Metrics configures the prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Log configures the daemon logger.
type Log struct {
	Level                 string `toml:"level"`
	RetentionDays         int    `toml:"retention_days"`
	ErrorLogRetentionDays int    `toml:"error_log_retention_days"`
}

// Default returns the configuration used when no file or override sets a value.
func Default() *Config {
	return &Config{
		Backend: Backend{
			BaseURL:         "https://usat-taklif-backend.onrender.com/api",
			AuthBaseURL:     "http://std-back.usat-ai-lab.uz/api/v1",
			Timeout:         Duration{10 * time.Second},
			AuthTimeout:     Duration{15 * time.Second},
			HealthTimeout:   Duration{3 * time.Second},
			ServiceUsername: "telegram_bot",
			RateLimitRPS:    10,
			RateBurst:       20,
		},
		Retry: Retry{
			Attempts: 2,
			Delay:    Duration{2 * time.Second},
		},
		Store: Store{
			BackupRetention: 5,
			LockAttempts:    10,
			LockDelay:       Duration{100 * time.Millisecond},
		},
		Sync: Sync{
			Interval:    Duration{5 * time.Minute},
			MaxAttempts: 5,
		},
		Validation: Validation{
			MinMessageLength: 10,
			MaxMessageLength: 1000,
			MaxNameLength:    50,
			MinNameWords:     2,
		},
		Bot: Bot{
			SessionIdleTimeout:   Duration{30 * time.Minute},
			SessionErrorTimeout:  Duration{time.Hour},
			SessionSweepInterval: Duration{10 * time.Minute},
		},
		Outbox: Outbox{
			Interval:    Duration{15 * time.Second},
			MaxAttempts: 20,
		},
		Journal: Journal{
			RetentionDays: 90,
		},
		Log: Log{
			Level:                 "info",
			RetentionDays:         30,
			ErrorLogRetentionDays: 14,
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that treats a missing file as an empty one, then applies
// environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	millis := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		dst.Duration = time.Duration(n) * time.Millisecond
		return nil
	}

	str("API_BASE_URL", &c.Backend.BaseURL)
	str("AUTH_BASE_URL", &c.Backend.AuthBaseURL)
	str("TAKLIF_SERVICE_USERNAME", &c.Backend.ServiceUsername)
	str("TAKLIF_SERVICE_PASSWORD", &c.Backend.ServicePassword)
	str("TAKLIF_DATA_DIR", &c.Store.DataDir)
	str("LOG_LEVEL", &c.Log.Level)

	if err := millis("API_TIMEOUT", &c.Backend.Timeout); err != nil {
		return err
	}
	if err := millis("API_RETRY_DELAY", &c.Retry.Delay); err != nil {
		return err
	}
	if v, ok := lookup("API_RETRY_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("API_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	return nil
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Backend.AuthBaseURL == "" {
		errs = append(errs, errors.New("backend.auth_base_url is required"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be >= 1, got %d", c.Retry.Attempts))
	}
	if c.Sync.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("sync.max_attempts must be >= 1, got %d", c.Sync.MaxAttempts))
	}
	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Outbox.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("outbox.max_attempts must be >= 1, got %d", c.Outbox.MaxAttempts))
	}
	if c.Outbox.Interval.Duration <= 0 {
		errs = append(errs, errors.New("outbox.interval must be positive"))
	}
	if c.Store.LockAttempts < 1 {
		errs = append(errs, fmt.Errorf("store.lock_attempts must be >= 1, got %d", c.Store.LockAttempts))
	}
	return errors.Join(errs...)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := Write(f, cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}
