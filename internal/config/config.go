// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Site specific selector
// maps live in separate profile files (see site.go) and are loaded from SitesDir.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Sheet    SheetConfig    `mapstructure:"sheet" yaml:"sheet"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	SitesDir string         `mapstructure:"sites_dir" yaml:"sites_dir"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven by chromedp.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableGPU      bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Platform        string         `mapstructure:"platform" yaml:"platform"`
	Languages       []string       `mapstructure:"languages" yaml:"languages"`
	Stealth         bool           `mapstructure:"stealth" yaml:"stealth"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes page level timeouts.
type NetworkConfig struct {
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout" yaml:"screenshot_timeout"`
	StableQuiet       time.Duration `mapstructure:"stable_quiet" yaml:"stable_quiet"`
	StableTimeout     time.Duration `mapstructure:"stable_timeout" yaml:"stable_timeout"`
}

// RunConfig controls the outer run loop.
type RunConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryPause      time.Duration `mapstructure:"retry_pause" yaml:"retry_pause"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	OptionPause     time.Duration `mapstructure:"option_pause" yaml:"option_pause"`
	ScreenshotDir   string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	KeepScreenshots bool          `mapstructure:"keep_screenshots" yaml:"keep_screenshots"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"`
}

// RecoveryConfig tunes session recovery after an inconclusive classification.
type RecoveryConfig struct {
	MaxRechecks     int           `mapstructure:"max_rechecks" yaml:"max_rechecks"`
	NavigateRetries int           `mapstructure:"navigate_retries" yaml:"navigate_retries"`
	NavigatePause   time.Duration `mapstructure:"navigate_pause" yaml:"navigate_pause"`
	PopupTimeout    time.Duration `mapstructure:"popup_timeout" yaml:"popup_timeout"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// NotifyConfig holds the Telegram credentials and retry policy.
type NotifyConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Token        string        `mapstructure:"token" yaml:"-"`
	ChatID       string        `mapstructure:"chat_id" yaml:"chat_id"`
	Attempts     int           `mapstructure:"attempts" yaml:"attempts"`
	PhotoBackoff time.Duration `mapstructure:"photo_backoff" yaml:"photo_backoff"`
	TextBackoff  time.Duration `mapstructure:"text_backoff" yaml:"text_backoff"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSec   float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	ProxyURL     string        `mapstructure:"proxy_url" yaml:"proxy_url"`
}

// SheetConfig controls the daily spreadsheet log.
type SheetConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir          string        `mapstructure:"dir" yaml:"dir"`
	LockPoll     time.Duration `mapstructure:"lock_poll" yaml:"lock_poll"`
	FilePrefix   string        `mapstructure:"file_prefix" yaml:"file_prefix"`
	SaveAttempts int           `mapstructure:"save_attempts" yaml:"save_attempts"`
}

// DatabaseConfig holds the history database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReportConfig controls optional file reports.
type ReportConfig struct {
	MarkdownDir string `mapstructure:"markdown_dir" yaml:"markdown_dir"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gatewatch")
	v.SetDefault("logger.log_file", "logs/gatewatch.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.languages", []string{"en-US", "en"})
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})

	// -- Network --
	v.SetDefault("network.action_timeout", "30s")
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.screenshot_timeout", "30s")
	v.SetDefault("network.stable_quiet", "1500ms")
	v.SetDefault("network.stable_timeout", "15s")

	// -- Run --
	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.retry_pause", "10s")
	v.SetDefault("run.concurrency", 1)
	v.SetDefault("run.option_pause", "5s")
	v.SetDefault("run.screenshot_dir", "screenshots")
	v.SetDefault("run.keep_screenshots", false)
	v.SetDefault("run.timezone", "Asia/Bangkok")

	// -- Recovery --
	v.SetDefault("recovery.max_rechecks", 1)
	v.SetDefault("recovery.navigate_retries", 2)
	v.SetDefault("recovery.navigate_pause", "2s")
	v.SetDefault("recovery.popup_timeout", "30s")
	v.SetDefault("recovery.settle_delay", "30s")

	// -- Notify --
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.attempts", 3)
	v.SetDefault("notify.photo_backoff", "5s")
	v.SetDefault("notify.text_backoff", "3s")
	v.SetDefault("notify.timeout", "30s")
	v.SetDefault("notify.rate_per_sec", 1.0)

	// -- Sheet --
	v.SetDefault("sheet.enabled", true)
	v.SetDefault("sheet.dir", ".")
	v.SetDefault("sheet.lock_poll", "1s")
	v.SetDefault("sheet.file_prefix", "data_bot_")
	v.SetDefault("sheet.save_attempts", 3)

	v.SetDefault("sites_dir", "sites")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Deployments keep the bot credentials in a plain .env file
	// as TOKEN and CHAT_ID; accept those alongside the prefixed names.
	_ = v.BindEnv("notify.token", "GATEWATCH_NOTIFY_TOKEN", "TOKEN")
	_ = v.BindEnv("notify.chat_id", "GATEWATCH_NOTIFY_CHAT_ID", "CHAT_ID")
	_ = v.BindEnv("database.url", "GATEWATCH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every configured path.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.SitesDir,
		&c.Logger.LogFile,
		&c.Run.ScreenshotDir,
		&c.Sheet.Dir,
		&c.Report.MarkdownDir,
		&c.Browser.ExecPath,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Run.MaxAttempts <= 0 {
		return fmt.Errorf("run.max_attempts must be a positive integer")
	}
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be a positive integer")
	}
	if _, err := time.LoadLocation(c.Run.Timezone); err != nil {
		return fmt.Errorf("run.timezone %q is not a valid IANA zone: %w", c.Run.Timezone, err)
	}
	if c.Recovery.MaxRechecks < 0 {
		return fmt.Errorf("recovery.max_rechecks must not be negative")
	}
	if c.Recovery.NavigateRetries <= 0 {
		return fmt.Errorf("recovery.navigate_retries must be a positive integer")
	}
	if c.Network.StableQuiet <= 0 || c.Network.StableTimeout <= 0 {
		return fmt.Errorf("network.stable_quiet and network.stable_timeout must be positive durations")
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify configuration invalid: %w", err)
	}
	if c.Sheet.Enabled && c.Sheet.LockPoll <= 0 {
		return fmt.Errorf("sheet.lock_poll must be a positive duration")
	}
	return nil
}

// Validate checks the notification retry policy.
func (n *NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.Attempts <= 0 {
		return fmt.Errorf("attempts must be a positive integer")
	}
	if n.RatePerSec < 0 {
		return fmt.Errorf("rate_per_sec must not be negative")
	}
	return nil
}

// RequireCredentials reports whether the Telegram credentials are present.
// It is checked only when a live sender is built, so commands that never
// send messages work without them.
func (n *NotifyConfig) RequireCredentials() error {
	if n.Token == "" {
		return fmt.Errorf("telegram token is required but not found. Set TOKEN or GATEWATCH_NOTIFY_TOKEN")
	}
	if n.ChatID == "" {
		return fmt.Errorf("chat_id is required but not found. Set CHAT_ID or GATEWATCH_NOTIFY_CHAT_ID")
	}
	return nil
}

// Location resolves the configured run timezone, falling back to UTC.
func (r RunConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
