// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Export   ExportConfig   `mapstructure:"export" yaml:"export"`
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

// BrowserConfig controls how the tool reaches the Chromium instance it
// records from.
type BrowserConfig struct {
	// RemoteURL is a DevTools websocket/http endpoint of an already running
	// browser. When empty a new instance is launched.
	RemoteURL       string        `mapstructure:"remote_url" yaml:"remote_url"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	AttachTimeout   time.Duration `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// RecorderConfig tunes the capture protocol.
type RecorderConfig struct {
	// SettleDelay is the fixed wait after an action before the after-state
	// and screenshots are captured.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// RestrictedSchemes lists address-scheme prefixes that are never targeted
	// for capture-script injection.
	RestrictedSchemes []string `mapstructure:"restricted_schemes" yaml:"restricted_schemes"`
	// SurroundingTextLimit bounds the surrounding-text extraction per element.
	SurroundingTextLimit int `mapstructure:"surrounding_text_limit" yaml:"surrounding_text_limit"`
	// ScreenshotsEnabled disables all raster capture attempts when false;
	// geometry descriptors are still produced.
	ScreenshotsEnabled bool `mapstructure:"screenshots_enabled" yaml:"screenshots_enabled"`
	// ScreenshotRate caps viewport captures per second per page context.
	ScreenshotRate float64 `mapstructure:"screenshot_rate" yaml:"screenshot_rate"`
	// BusBuffer sizes the coordinator's inbound command channel.
	BusBuffer int `mapstructure:"bus_buffer" yaml:"bus_buffer"`
	// ShowIndicator renders the on-page recording indicator.
	ShowIndicator bool `mapstructure:"show_indicator" yaml:"show_indicator"`
}

// ControlConfig configures the local HTTP control surface.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// DatabaseConfig holds the optional session-archive connection details.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// ExportConfig controls where the session artifact is written.
type ExportConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "webtrace")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.attach_timeout", "30s")
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Recorder --
	v.SetDefault("recorder.settle_delay", "200ms")
	v.SetDefault("recorder.restricted_schemes", []string{
		"chrome://", "chrome-extension://", "chrome-error://", "devtools://",
		"edge://", "about:", "view-source:", "data:",
	})
	v.SetDefault("recorder.surrounding_text_limit", 200)
	v.SetDefault("recorder.screenshots_enabled", true)
	v.SetDefault("recorder.screenshot_rate", 4.0)
	v.SetDefault("recorder.bus_buffer", 256)
	v.SetDefault("recorder.show_indicator", true)

	// -- Control surface --
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen", "127.0.0.1:8089")

	// -- Database --
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")

	// -- Export --
	v.SetDefault("export.path", "webtrace-session.json")
	v.SetDefault("export.pretty", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "WEBTRACE_DATABASE_URL")

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
	if c.Recorder.SettleDelay <= 0 {
		return fmt.Errorf("recorder.settle_delay must be a positive duration")
	}
	if c.Recorder.SurroundingTextLimit <= 0 {
		return fmt.Errorf("recorder.surrounding_text_limit must be a positive integer")
	}
	if c.Recorder.BusBuffer <= 0 {
		return fmt.Errorf("recorder.bus_buffer must be a positive integer")
	}
	if c.Recorder.ScreenshotRate <= 0 {
		return fmt.Errorf("recorder.screenshot_rate must be positive")
	}
	if c.Control.Enabled && c.Control.Listen == "" {
		return fmt.Errorf("control.listen is required when the control surface is enabled")
	}
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when the session archive is enabled")
	}
	if c.Export.Path == "" {
		return fmt.Errorf("export.path must not be empty")
	}
	return nil
}
