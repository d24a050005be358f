package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/runnerx/runnerx/pkg/channel"
	"github.com/runnerx/runnerx/pkg/client"
	"github.com/runnerx/runnerx/pkg/poller"
	"github.com/runnerx/runnerx/pkg/reconciler"
	"github.com/runnerx/runnerx/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "RUNNERX_"

// Config is the client configuration
type Config struct {
	APIURL       string `yaml:"api_url"`
	WSURL        string `yaml:"ws_url"`
	Token        string `yaml:"token"`
	LogLevel     string `yaml:"log_level"`
	LogJSON      bool   `yaml:"log_json"`
	MetricsAddr  string `yaml:"metrics_addr"`
	SnapshotPath string `yaml:"snapshot_path"`

	Channel  ChannelConfig                    `yaml:"channel"`
	API      APIConfig                        `yaml:"api"`
	Debounce time.Duration                    `yaml:"debounce"`
	Polling  map[types.Category]poller.Policy `yaml:"polling"`
	Retries  int                              `yaml:"retries"`
}

// ChannelConfig configures the event stream connection
type ChannelConfig struct {
	EstablishTimeout time.Duration `yaml:"establish_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MaxAttempts      int           `yaml:"max_attempts"`
	QueueLimit       int           `yaml:"queue_limit"`
}

// APIConfig configures the REST client
type APIConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	ch := channel.DefaultConfig("ws://localhost:8080/ws")
	api := client.DefaultConfig("http://localhost:8080/api", "")

	return &Config{
		APIURL:   api.BaseURL,
		WSURL:    ch.URL,
		LogLevel: "info",
		Channel: ChannelConfig{
			EstablishTimeout: ch.EstablishTimeout,
			PingInterval:     ch.PingInterval,
			BaseDelay:        ch.BaseDelay,
			MaxDelay:         ch.MaxDelay,
			MaxAttempts:      ch.MaxAttempts,
			QueueLimit:       ch.QueueLimit,
		},
		API: APIConfig{
			Timeout:           api.Timeout,
			RequestsPerSecond: api.RequestsPerSecond,
			Burst:             api.Burst,
		},
		Debounce: reconciler.DefaultDebounce,
		Polling:  poller.DefaultPolicies(),
		Retries:  poller.DefaultMaxRetries,
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty), a .env file in the working directory and
// RUNNERX_* environment variables, in increasing order of precedence
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays YAML data onto cfg. Polling policies are merged per
// category so a file may override a single category.
func (c *Config) merge(data []byte) error {
	defaults := c.Polling
	c.Polling = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	overrides := c.Polling
	c.Polling = defaults
	for category, policy := range overrides {
		c.Polling[category] = policy
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"API_URL":       &c.APIURL,
		"WS_URL":        &c.WSURL,
		"TOKEN":         &c.Token,
		"LOG_LEVEL":     &c.LogLevel,
		"METRICS_ADDR":  &c.MetricsAddr,
		"SNAPSHOT_PATH": &c.SnapshotPath,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_JSON %q: %w", EnvPrefix, v, err)
		}
		c.LogJSON = b
	}
	return nil
}

// Validate checks the configuration for values the client cannot run with
func (c *Config) Validate() error {
	api, err := url.Parse(c.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	ws, err := url.Parse(c.WSURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") {
		return fmt.Errorf("ws_url must be a ws(s) URL, got %q", c.WSURL)
	}
	if err := c.ChannelConfig().Validate(); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive")
	}
	for category, p := range c.Polling {
		if p.Connected < 0 || p.Disconnected <= 0 {
			return fmt.Errorf("polling %s: disconnected interval must be positive and connected must not be negative", category)
		}
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// ChannelConfig returns the event channel configuration
func (c *Config) ChannelConfig() channel.Config {
	return channel.Config{
		URL:              c.WSURL,
		EstablishTimeout: c.Channel.EstablishTimeout,
		PingInterval:     c.Channel.PingInterval,
		BaseDelay:        c.Channel.BaseDelay,
		MaxDelay:         c.Channel.MaxDelay,
		MaxAttempts:      c.Channel.MaxAttempts,
		QueueLimit:       c.Channel.QueueLimit,
	}
}

// ClientConfig returns the REST client configuration
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:           c.APIURL,
		Token:             c.Token,
		Timeout:           c.API.Timeout,
		RequestsPerSecond: c.API.RequestsPerSecond,
		Burst:             c.API.Burst,
	}
}

// PollerConfig returns the polling coordinator configuration
func (c *Config) PollerConfig() poller.Config {
	cfg := poller.DefaultConfig()
	cfg.Policies = c.Polling
	cfg.MaxRetries = c.Retries
	return cfg
}

// ReconcilerConfig returns the reconciliation buffer configuration
func (c *Config) ReconcilerConfig() reconciler.Config {
	cfg := reconciler.DefaultConfig()
	cfg.Debounce = c.Debounce
	return cfg
}
