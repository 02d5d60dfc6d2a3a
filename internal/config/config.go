package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
// SCALPEL_AUDIT_NETWORK_TIMEOUT overrides network.timeout.
const EnvPrefix = "SCALPEL_AUDIT"

// Interface defines the contract for accessing application configuration.
type Interface interface {
	Logger() LoggerConfig
	Network() NetworkConfig
	Browser() BrowserConfig
	Audit() AuditConfig
	Database() DatabaseConfig

	SetBrowserHeadless(bool)
	SetNetworkIgnoreTLSErrors(bool)
	SetAuditConcurrency(int)
	SetDatabaseURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AuditCfg    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Audit() AuditConfig       { return c.AuditCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// Setters for values that come from CLI flags.

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetNetworkIgnoreTLSErrors(b bool) { c.NetworkCfg.IgnoreTLSErrors = b }
func (c *Config) SetAuditConcurrency(n int)        { c.AuditCfg.Concurrency = n }
func (c *Config) SetDatabaseURL(url string)        { c.DatabaseCfg.URL = url }

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

// NetworkConfig tunes the audit HTTP client.
type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	DialTimeout     time.Duration     `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ForceHTTP2      bool              `mapstructure:"force_http2" yaml:"force_http2"`
	RateLimit       float64           `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst           int               `mapstructure:"burst" yaml:"burst"`
	MaxConcurrency  int64             `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxBodySize     int64             `mapstructure:"max_body_size" yaml:"max_body_size"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
	// Custom404Threshold is the simhash distance under which a body matches
	// the site's not-found page.
	Custom404Threshold int `mapstructure:"custom_404_threshold" yaml:"custom_404_threshold"`
}

// BrowserConfig holds settings for the browser that replays DOM states.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// Headers are sent with every request the browser makes.
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	// ReplayTimeout bounds each step of a DOM state restore.
	ReplayTimeout time.Duration `mapstructure:"replay_timeout" yaml:"replay_timeout"`
}

// AuditConfig is the scan policy applied by the audit dispatcher.
type AuditConfig struct {
	// Elements lists the element kinds the scan may audit.
	Elements         []string       `mapstructure:"elements" yaml:"elements"`
	Concurrency      int            `mapstructure:"concurrency" yaml:"concurrency"`
	DefaultMaxIssues int            `mapstructure:"default_max_issues" yaml:"default_max_issues"`
	MaxIssues        map[string]int `mapstructure:"max_issues" yaml:"max_issues"`
	// PersistBatchSize is how many issues are buffered before they are written
	// to the database.
	PersistBatchSize int            `mapstructure:"persist_batch_size" yaml:"persist_batch_size"`
	Timing           TimingConfig   `mapstructure:"timing" yaml:"timing"`
}

// TimingConfig tunes the timing oracle.
type TimingConfig struct {
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
	// Multiplier converts seconds into the unit payloads expect, 1000 for
	// milliseconds. Delays are rounded up to a whole unit.
	Multiplier      int `mapstructure:"multiplier" yaml:"multiplier"`
	BaselineSamples int `mapstructure:"baseline_samples" yaml:"baseline_samples"`
}

// ElementKinds parses Elements.
func (a AuditConfig) ElementKinds() ([]schemas.ElementKind, error) {
	kinds := make([]schemas.ElementKind, 0, len(a.Elements))
	for _, raw := range a.Elements {
		kind, err := schemas.ParseElementKind(raw)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-audit")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.dial_timeout", "5s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.force_http2", true)
	v.SetDefault("network.rate_limit", 0.0)
	v.SetDefault("network.burst", 1)
	v.SetDefault("network.max_concurrency", 20)
	v.SetDefault("network.max_body_size", 10<<20)
	v.SetDefault("network.custom_404_threshold", 3)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "500ms")
	v.SetDefault("browser.replay_timeout", "30s")

	// -- Audit --
	elements := make([]string, 0, len(schemas.DefaultElementKinds))
	for _, kind := range schemas.DefaultElementKinds {
		elements = append(elements, string(kind))
	}
	v.SetDefault("audit.elements", elements)
	v.SetDefault("audit.concurrency", 10)
	v.SetDefault("audit.default_max_issues", 0)
	v.SetDefault("audit.persist_batch_size", 50)
	v.SetDefault("audit.timing.delay", "4s")
	v.SetDefault("audit.timing.multiplier", 1)
	v.SetDefault("audit.timing.baseline_samples", 3)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Environment variables prefixed with EnvPrefix override file values.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.NetworkCfg.MaxConcurrency <= 0 {
		return fmt.Errorf("network.max_concurrency must be a positive integer")
	}
	if c.NetworkCfg.RateLimit < 0 {
		return fmt.Errorf("network.rate_limit must not be negative")
	}
	if c.AuditCfg.Concurrency <= 0 {
		return fmt.Errorf("audit.concurrency must be a positive integer")
	}
	if c.AuditCfg.DefaultMaxIssues < 0 {
		return fmt.Errorf("audit.default_max_issues must not be negative")
	}
	for check, n := range c.AuditCfg.MaxIssues {
		if n < 0 {
			return fmt.Errorf("audit.max_issues.%s must not be negative", check)
		}
	}
	if _, err := c.AuditCfg.ElementKinds(); err != nil {
		return fmt.Errorf("audit.elements: %w", err)
	}
	if c.AuditCfg.Timing.Delay <= 0 {
		return fmt.Errorf("audit.timing.delay must be positive")
	}
	if c.AuditCfg.Timing.Multiplier <= 0 {
		return fmt.Errorf("audit.timing.multiplier must be a positive integer")
	}
	if c.BrowserCfg.ReplayTimeout <= 0 {
		return fmt.Errorf("browser.replay_timeout must be positive")
	}
	return nil
}
