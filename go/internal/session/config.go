package session

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds client-session settings. Values come from an optional YAML
// file with environment-variable overrides on top.
type Config struct {
	ServerURL    string        `yaml:"server_url"`
	FeedURL      string        `yaml:"feed_url"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	TickInterval time.Duration `yaml:"tick_interval"`
	FadeTick     time.Duration `yaml:"fade_tick"`
	DebugAddr    string        `yaml:"debug_addr"`
}

// UnmarshalYAML accepts durations as strings ("100ms", "30s"); the yaml
// package only decodes integers into time.Duration on its own.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ServerURL    string `yaml:"server_url"`
		FeedURL      string `yaml:"feed_url"`
		HTTPTimeout  string `yaml:"http_timeout"`
		TickInterval string `yaml:"tick_interval"`
		FadeTick     string `yaml:"fade_tick"`
		DebugAddr    string `yaml:"debug_addr"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.ServerURL != "" {
		c.ServerURL = raw.ServerURL
	}
	if raw.FeedURL != "" {
		c.FeedURL = raw.FeedURL
	}
	if raw.DebugAddr != "" {
		c.DebugAddr = raw.DebugAddr
	}
	for _, d := range []struct {
		raw  string
		into *time.Duration
	}{
		{raw.HTTPTimeout, &c.HTTPTimeout},
		{raw.TickInterval, &c.TickInterval},
		{raw.FadeTick, &c.FadeTick},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.into = parsed
	}
	return nil
}

// DefaultConfig returns the settings for a locally running game server.
func DefaultConfig() Config {
	return Config{
		ServerURL:    "http://localhost:5000",
		FeedURL:      "ws://localhost:5000/play/feed",
		HTTPTimeout:  30 * time.Second,
		TickInterval: 50 * time.Millisecond,
		FadeTick:     250 * time.Millisecond,
		DebugAddr:    "",
	}
}

// LoadConfig reads path (if non-empty) over the defaults, then applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.ServerURL = getEnv("TAVERNKEEP_SERVER_URL", config.ServerURL)
	config.FeedURL = getEnv("TAVERNKEEP_FEED_URL", config.FeedURL)
	config.DebugAddr = getEnv("TAVERNKEEP_DEBUG_ADDR", config.DebugAddr)
	config.TickInterval = getEnvAsDuration("TAVERNKEEP_TICK_INTERVAL", config.TickInterval)
	config.HTTPTimeout = getEnvAsDuration("TAVERNKEEP_HTTP_TIMEOUT", config.HTTPTimeout)

	return config, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
