// Package config loads and saves pagespin configuration from
// .pagespin/config.yaml. Missing files yield defaults; a handful of
// environment variables override the file for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pagespin configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Gemini  GeminiConfig  `yaml:"gemini"`
	Browser BrowserConfig `yaml:"browser"`
	Store   StoreConfig   `yaml:"store"`
	Reward  RewardConfig  `yaml:"reward"`
	Logging LoggingConfig `yaml:"logging"`
}

// GeminiConfig configures the text-generation capability.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// BrowserConfig configures the headless scraper.
type BrowserConfig struct {
	Bin               string `yaml:"bin"` // optional Chrome binary path
	Headless          bool   `yaml:"headless"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	ScreenshotDir     string `yaml:"screenshot_dir"`
}

// StoreConfig configures the version store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RewardConfig configures the reward relay.
type RewardConfig struct {
	Endpoint  string `yaml:"endpoint"`
	QueueSize int    `yaml:"queue_size"`
	Timeout   string `yaml:"timeout"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "pagespin",
		Version: "0.3.0",

		Gemini: GeminiConfig{
			Model:   "gemini-2.5-pro",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "120s",
		},

		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: "30s",
			ScreenshotDir:     ".pagespin/screenshots",
		},

		Store: StoreConfig{
			DatabasePath: ".pagespin/pagespin.db",
		},

		Reward: RewardConfig{
			Endpoint:  "http://localhost:5050/feedback",
			QueueSize: 64,
			Timeout:   "10s",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location inside a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".pagespin", "config.yaml")
}

// Load loads configuration from a YAML file, returning defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if ep := os.Getenv("PAGESPIN_REWARD_ENDPOINT"); ep != "" {
		c.Reward.Endpoint = ep
	}
	if db := os.Getenv("PAGESPIN_DB"); db != "" {
		c.Store.DatabasePath = db
	}
}

// TimeoutDuration parses the Gemini timeout, defaulting to 120s.
func (g GeminiConfig) TimeoutDuration() time.Duration {
	return parseDuration(g.Timeout, 120*time.Second)
}

// NavigationTimeoutDuration parses the navigation timeout, defaulting to 30s.
func (b BrowserConfig) NavigationTimeoutDuration() time.Duration {
	return parseDuration(b.NavigationTimeout, 30*time.Second)
}

// TimeoutDuration parses the reward sink timeout, defaulting to 10s.
func (r RewardConfig) TimeoutDuration() time.Duration {
	return parseDuration(r.Timeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
