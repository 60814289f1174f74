package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds responder daemon configuration.
type Config struct {
	// Directories
	StateDir       string `toml:"state_dir"`
	LogDir         string `toml:"log_dir"`
	CheckpointPath string `toml:"checkpoint_path"`

	// Browser session
	DebugURL    string        `toml:"debug_url"`   // CDP endpoint of the operator's browser
	ProfileDir  string        `toml:"profile_dir"` // browser profile dir, watched for restarts
	PageURL     string        `toml:"page_url"`    // substring matched against open tabs
	EvalTimeout time.Duration `toml:"eval_timeout"`
	SettleDelay time.Duration `toml:"settle_delay"`

	// Observer
	ScanInterval       time.Duration `toml:"scan_interval"`
	GracePeriod        time.Duration `toml:"grace_period"`
	ObserverStaleAfter time.Duration `toml:"observer_stale_after"`

	// Drain loop
	TickInterval        time.Duration `toml:"tick_interval"`
	HealthCheckInterval time.Duration `toml:"health_check_interval"`
	CooldownWindow      time.Duration `toml:"cooldown_window"`
	MaxTickErrors       int           `toml:"max_tick_errors"`
	ReconnectMaxBackoff time.Duration `toml:"reconnect_max_backoff"`

	// Reply generation
	Model             string        `toml:"model"`
	MaxTokens         int           `toml:"max_tokens"`
	GenerationTimeout time.Duration `toml:"generation_timeout"`
	MaxRetries        int           `toml:"max_retries"`
	HistoryLimit      int           `toml:"history_limit"`
	SystemPrompt      string        `toml:"system_prompt"`
	FallbackReply     string        `toml:"fallback_reply"`
	ReplySignature    string        `toml:"reply_signature"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".local", "share", "waresponder")
	return &Config{
		StateDir:       stateDir,
		LogDir:         filepath.Join(stateDir, "log"),
		CheckpointPath: filepath.Join(stateDir, "checkpoint.json"),

		DebugURL:    "http://127.0.0.1:9222",
		ProfileDir:  "",
		PageURL:     "web.whatsapp.com",
		EvalTimeout: 10 * time.Second,
		SettleDelay: 800 * time.Millisecond,

		ScanInterval:       700 * time.Millisecond,
		GracePeriod:        2 * time.Second,
		ObserverStaleAfter: 90 * time.Second,

		TickInterval:        time.Second,
		HealthCheckInterval: 60 * time.Second,
		CooldownWindow:      10 * time.Minute,
		MaxTickErrors:       5,
		ReconnectMaxBackoff: 30 * time.Second,

		Model:             "claude-3-haiku-20240307",
		MaxTokens:         400,
		GenerationTimeout: 20 * time.Second,
		MaxRetries:        2,
		HistoryLimit:      12,
		SystemPrompt: "You are answering WhatsApp messages on behalf of the account owner. " +
			"Reply briefly and helpfully in the language of the incoming message.",
		FallbackReply:  "Thanks for your message! I'll get back to you shortly.",
		ReplySignature: "— sent by assistant",
	}
}

// Load returns configuration from the TOML file (if present) with
// environment variable overrides applied on top.
func Load() (*Config, error) {
	return LoadFromPath(configPath())
}

// LoadFromPath loads configuration from an explicit TOML path. A missing
// file is not an error; env overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			fc := newFileConfig(cfg)
			if err := toml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
			fc.apply(cfg)
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// duration accepts TOML duration strings like "2s" or "700ms"; go-toml
// cannot decode a TOML string into time.Duration directly.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config with TOML-decodable duration fields. It is
// seeded from the current config so keys absent from the file keep their
// values.
type fileConfig struct {
	StateDir       string `toml:"state_dir"`
	LogDir         string `toml:"log_dir"`
	CheckpointPath string `toml:"checkpoint_path"`

	DebugURL    string   `toml:"debug_url"`
	ProfileDir  string   `toml:"profile_dir"`
	PageURL     string   `toml:"page_url"`
	EvalTimeout duration `toml:"eval_timeout"`
	SettleDelay duration `toml:"settle_delay"`

	ScanInterval       duration `toml:"scan_interval"`
	GracePeriod        duration `toml:"grace_period"`
	ObserverStaleAfter duration `toml:"observer_stale_after"`

	TickInterval        duration `toml:"tick_interval"`
	HealthCheckInterval duration `toml:"health_check_interval"`
	CooldownWindow      duration `toml:"cooldown_window"`
	MaxTickErrors       int      `toml:"max_tick_errors"`
	ReconnectMaxBackoff duration `toml:"reconnect_max_backoff"`

	Model             string   `toml:"model"`
	MaxTokens         int      `toml:"max_tokens"`
	GenerationTimeout duration `toml:"generation_timeout"`
	MaxRetries        int      `toml:"max_retries"`
	HistoryLimit      int      `toml:"history_limit"`
	SystemPrompt      string   `toml:"system_prompt"`
	FallbackReply     string   `toml:"fallback_reply"`
	ReplySignature    string   `toml:"reply_signature"`
}

func newFileConfig(c *Config) fileConfig {
	return fileConfig{
		StateDir:       c.StateDir,
		LogDir:         c.LogDir,
		CheckpointPath: c.CheckpointPath,

		DebugURL:    c.DebugURL,
		ProfileDir:  c.ProfileDir,
		PageURL:     c.PageURL,
		EvalTimeout: duration(c.EvalTimeout),
		SettleDelay: duration(c.SettleDelay),

		ScanInterval:       duration(c.ScanInterval),
		GracePeriod:        duration(c.GracePeriod),
		ObserverStaleAfter: duration(c.ObserverStaleAfter),

		TickInterval:        duration(c.TickInterval),
		HealthCheckInterval: duration(c.HealthCheckInterval),
		CooldownWindow:      duration(c.CooldownWindow),
		MaxTickErrors:       c.MaxTickErrors,
		ReconnectMaxBackoff: duration(c.ReconnectMaxBackoff),

		Model:             c.Model,
		MaxTokens:         c.MaxTokens,
		GenerationTimeout: duration(c.GenerationTimeout),
		MaxRetries:        c.MaxRetries,
		HistoryLimit:      c.HistoryLimit,
		SystemPrompt:      c.SystemPrompt,
		FallbackReply:     c.FallbackReply,
		ReplySignature:    c.ReplySignature,
	}
}

func (f fileConfig) apply(c *Config) {
	c.StateDir = f.StateDir
	c.LogDir = f.LogDir
	c.CheckpointPath = f.CheckpointPath

	c.DebugURL = f.DebugURL
	c.ProfileDir = f.ProfileDir
	c.PageURL = f.PageURL
	c.EvalTimeout = time.Duration(f.EvalTimeout)
	c.SettleDelay = time.Duration(f.SettleDelay)

	c.ScanInterval = time.Duration(f.ScanInterval)
	c.GracePeriod = time.Duration(f.GracePeriod)
	c.ObserverStaleAfter = time.Duration(f.ObserverStaleAfter)

	c.TickInterval = time.Duration(f.TickInterval)
	c.HealthCheckInterval = time.Duration(f.HealthCheckInterval)
	c.CooldownWindow = time.Duration(f.CooldownWindow)
	c.MaxTickErrors = f.MaxTickErrors
	c.ReconnectMaxBackoff = time.Duration(f.ReconnectMaxBackoff)

	c.Model = f.Model
	c.MaxTokens = f.MaxTokens
	c.GenerationTimeout = time.Duration(f.GenerationTimeout)
	c.MaxRetries = f.MaxRetries
	c.HistoryLimit = f.HistoryLimit
	c.SystemPrompt = f.SystemPrompt
	c.FallbackReply = f.FallbackReply
	c.ReplySignature = f.ReplySignature
}

func configPath() string {
	if path := os.Getenv("WA_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "waresponder", "config.toml")
}

func (c *Config) applyEnv() {
	overrideString(&c.StateDir, "WA_STATE_DIR")
	overrideString(&c.LogDir, "WA_LOG_DIR")
	overrideString(&c.CheckpointPath, "WA_CHECKPOINT_PATH")
	overrideString(&c.DebugURL, "WA_DEBUG_URL")
	overrideString(&c.ProfileDir, "WA_PROFILE_DIR")
	overrideString(&c.PageURL, "WA_PAGE_URL")
	overrideString(&c.Model, "WA_MODEL")
	overrideString(&c.SystemPrompt, "WA_SYSTEM_PROMPT")
	overrideString(&c.FallbackReply, "WA_FALLBACK_REPLY")
	overrideString(&c.ReplySignature, "WA_REPLY_SIGNATURE")

	overrideDuration(&c.EvalTimeout, "WA_EVAL_TIMEOUT")
	overrideDuration(&c.SettleDelay, "WA_SETTLE_DELAY")
	overrideDuration(&c.ScanInterval, "WA_SCAN_INTERVAL")
	overrideDuration(&c.GracePeriod, "WA_GRACE_PERIOD")
	overrideDuration(&c.ObserverStaleAfter, "WA_OBSERVER_STALE_AFTER")
	overrideDuration(&c.TickInterval, "WA_TICK_INTERVAL")
	overrideDuration(&c.HealthCheckInterval, "WA_HEALTH_CHECK_INTERVAL")
	overrideDuration(&c.CooldownWindow, "WA_COOLDOWN_WINDOW")
	overrideDuration(&c.ReconnectMaxBackoff, "WA_RECONNECT_MAX_BACKOFF")
	overrideDuration(&c.GenerationTimeout, "WA_GENERATION_TIMEOUT")

	overrideInt(&c.MaxTickErrors, "WA_MAX_TICK_ERRORS")
	overrideInt(&c.MaxTokens, "WA_MAX_TOKENS")
	overrideInt(&c.MaxRetries, "WA_MAX_RETRIES")
	overrideInt(&c.HistoryLimit, "WA_HISTORY_LIMIT")
}

func overrideString(dest *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dest = val
	}
}

func overrideDuration(dest *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*dest = parsed
		}
	}
}

func overrideInt(dest *int, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dest = parsed
		}
	}
}
