// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Policy() PolicyConfig
	Activity() ActivityConfig
	Script() ScriptConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// Policy Setters
	SetPolicyWaitIdleTime(d time.Duration)
	SetPolicyWaitIdleLoadTime(d time.Duration)

	// Script Setters
	SetScriptStepsPerSecond(float64)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	PolicyCfg   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	ActivityCfg ActivityConfig `mapstructure:"activity" yaml:"activity"`
	ScriptCfg   ScriptConfig   `mapstructure:"script" yaml:"script"`
}

var _ Interface = (*Config)(nil)

// --- Getters ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Policy() PolicyConfig     { return c.PolicyCfg }
func (c *Config) Activity() ActivityConfig { return c.ActivityCfg }
func (c *Config) Script() ScriptConfig     { return c.ScriptCfg }

// --- Setters ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.BrowserCfg.IgnoreTLSErrors = b }

func (c *Config) SetPolicyWaitIdleTime(d time.Duration)     { c.PolicyCfg.WaitIdleTime = d }
func (c *Config) SetPolicyWaitIdleLoadTime(d time.Duration) { c.PolicyCfg.WaitIdleLoadTime = d }

func (c *Config) SetScriptStepsPerSecond(f float64) { c.ScriptCfg.StepsPerSecond = f }

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

// BrowserConfig holds settings for the browser process and its tabs.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir     string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// WaitTimeout bounds selector and predicate waits.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	// NavigationTimeout bounds a navigation until the frame stops loading.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// PolicyConfig is the initial wait policy of every new page.
type PolicyConfig struct {
	WaitUntilVisible   bool          `mapstructure:"wait_until_visible" yaml:"wait_until_visible"`
	WaitOnSelectors    bool          `mapstructure:"wait_on_selectors" yaml:"wait_on_selectors"`
	WaitAfterAction    time.Duration `mapstructure:"wait_after_action" yaml:"wait_after_action"`
	WaitIdleTime       time.Duration `mapstructure:"wait_idle_time" yaml:"wait_idle_time"`
	WaitIdleLoadTime   time.Duration `mapstructure:"wait_idle_load_time" yaml:"wait_idle_load_time"`
	UseSimulatedClicks bool          `mapstructure:"use_simulated_clicks" yaml:"use_simulated_clicks"`
}

// ActivityConfig tunes the per-page activity monitor.
type ActivityConfig struct {
	// MaxWait is the ceiling of a single settle wait.
	MaxWait      time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ScriptConfig tunes the step runner.
type ScriptConfig struct {
	// StepsPerSecond paces steps; zero runs them back to back.
	StepsPerSecond float64 `mapstructure:"steps_per_second" yaml:"steps_per_second"`
}

// NewDefaultConfig creates a configuration populated with every default.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// The defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "steady")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.wait_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Policy --
	v.SetDefault("policy.wait_until_visible", true)
	v.SetDefault("policy.wait_on_selectors", true)
	v.SetDefault("policy.wait_after_action", "0s")
	v.SetDefault("policy.wait_idle_time", "0s")
	v.SetDefault("policy.wait_idle_load_time", "0s")
	v.SetDefault("policy.use_simulated_clicks", true)

	// -- Activity --
	v.SetDefault("activity.max_wait", "30s")
	v.SetDefault("activity.poll_interval", "50ms")

	// -- Script --
	v.SetDefault("script.steps_per_second", 0.0)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.WaitTimeout <= 0 {
		return fmt.Errorf("browser.wait_timeout must be a positive duration")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.ActivityCfg.MaxWait <= 0 {
		return fmt.Errorf("activity.max_wait must be a positive duration")
	}
	if c.ActivityCfg.PollInterval <= 0 {
		return fmt.Errorf("activity.poll_interval must be a positive duration")
	}
	if err := c.PolicyCfg.Validate(); err != nil {
		return fmt.Errorf("policy configuration invalid: %w", err)
	}
	if c.ScriptCfg.StepsPerSecond < 0 {
		return fmt.Errorf("script.steps_per_second must not be negative")
	}
	return nil
}

// Validate checks the policy durations.
func (p *PolicyConfig) Validate() error {
	if p.WaitAfterAction < 0 || p.WaitIdleTime < 0 || p.WaitIdleLoadTime < 0 {
		return fmt.Errorf("wait durations must not be negative")
	}
	return nil
}
