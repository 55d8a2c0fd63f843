package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Relay   RelayConfig   `yaml:"relay"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	MaxViewers     int      `yaml:"max_viewers"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// StaticDir serves the viewer from disk instead of the embedded copy.
	StaticDir string `yaml:"static_dir"`
}

type BrowserConfig struct {
	InitialURL string `yaml:"initial_url"`
	// CDPURL attaches to a running browser. Empty launches a local Chrome.
	CDPURL      string        `yaml:"cdp_url"`
	ChromePath  string        `yaml:"chrome_path"`
	Headless    bool          `yaml:"headless"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type RelayConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	QueueCapacity int           `yaml:"queue_capacity"`
	// FailureThreshold is the number of consecutive failed ticks tolerated
	// before the session loop aborts. 1 aborts on the first driver error.
	FailureThreshold int `yaml:"failure_threshold"`
}

type ViewerConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	// CommandsPerSecond limits inbound commands per viewer. 0 disables the limit.
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	CommandBurst      int     `yaml:"command_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Browser: BrowserConfig{
			InitialURL:  "about:blank",
			Headless:    true,
			Width:       800,
			Height:      600,
			CallTimeout: 30 * time.Second,
		},
		Relay: RelayConfig{
			TickInterval:     100 * time.Millisecond,
			QueueCapacity:    30,
			FailureThreshold: 1,
		},
		Viewer: ViewerConfig{
			WriteTimeout:      10 * time.Second,
			PingInterval:      30 * time.Second,
			PongTimeout:       60 * time.Second,
			MaxMessageBytes:   4 << 20, // room for a 2 MB URL plus JSON framing
			CommandsPerSecond: 50,
			CommandBurst:      20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxViewers < 0 {
		errs = append(errs, errors.New("server.max_viewers must not be negative"))
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		errs = append(errs, fmt.Errorf("browser viewport %dx%d must be positive", c.Browser.Width, c.Browser.Height))
	}
	if c.Browser.CallTimeout <= 0 {
		errs = append(errs, errors.New("browser.call_timeout must be positive"))
	}
	if c.Relay.TickInterval <= 0 {
		errs = append(errs, errors.New("relay.tick_interval must be positive"))
	}
	if c.Relay.QueueCapacity <= 0 {
		errs = append(errs, errors.New("relay.queue_capacity must be positive"))
	}
	if c.Relay.FailureThreshold <= 0 {
		errs = append(errs, errors.New("relay.failure_threshold must be positive"))
	}
	if c.Viewer.CommandsPerSecond < 0 {
		errs = append(errs, errors.New("viewer.commands_per_second must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
