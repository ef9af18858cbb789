package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ApiUrl          string `yaml:"api_url"`
	OutputDir       string `yaml:"output_dir"`
	ManifestPath    string `yaml:"manifest_path"`
	TailConcurrency int64  `yaml:"tail_concurrency"`
	Timeout         int    `yaml:"timeout"`
	PollInterval    int    `yaml:"poll_interval"`
	LogFormat       string `yaml:"log_format"`
	LogLevel        string `yaml:"log_level"`
}

// Default returns the settings used when no config file is given. An empty
// OutputDir keeps blobs in memory and an empty ManifestPath disables the
// manifest.
func Default() *Config {
	return &Config{
		Timeout:      300,
		PollInterval: 500,
		LogFormat:    "text",
		LogLevel:     "info",
	}
}

func ReadConfig(filePath string) (*Config, error) {
	file, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.TailConcurrency < 0 {
		return fmt.Errorf("tail_concurrency must not be negative, got %d", c.TailConcurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %d", c.PollInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// WatchTimeout is Timeout in seconds as a duration.
func (c *Config) WatchTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// WatchPollInterval is PollInterval in milliseconds as a duration.
func (c *Config) WatchPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}
