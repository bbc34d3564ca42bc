package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Daemon  DaemonConfig  `mapstructure:"daemon" yaml:"daemon"`
	Worker  WorkerConfig  `mapstructure:"worker" yaml:"worker"`
	Loops   LoopsConfig   `mapstructure:"loops" yaml:"loops"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type DaemonConfig struct {
	BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	TimeoutSec    int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count" yaml:"retry_count"`
	RetryDelayMs  int    `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	RatePerSecond int    `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

// Timeout bounds a single list query.
func (d DaemonConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

func (d DaemonConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMs) * time.Millisecond
}

type WorkerConfig struct {
	Workers    int    `mapstructure:"workers" yaml:"workers"`
	QueueSize  int    `mapstructure:"queue_size" yaml:"queue_size"`
	FullPolicy string `mapstructure:"full_policy" yaml:"full_policy"`
}

type LoopsConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// Feeds are the identities followed from startup by the serve command.
	Feeds []string `mapstructure:"feeds" yaml:"feeds"`
	// Bundles enables following the rhizome bundle list.
	Bundles bool `mapstructure:"bundles" yaml:"bundles"`
	// Resume restarts lists from their persisted tokens instead of
	// re-reading history.
	Resume bool `mapstructure:"resume" yaml:"resume"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type ServerConfig struct {
	Port       string `mapstructure:"port" yaml:"port"`
	WSEnabled  bool   `mapstructure:"ws_enabled" yaml:"ws_enabled"`
	SSEEnabled bool   `mapstructure:"sse_enabled" yaml:"sse_enabled"`
	// ClientBuffer is the per-client event buffer of the relays.
	ClientBuffer int `mapstructure:"client_buffer" yaml:"client_buffer"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Directory string `mapstructure:"directory" yaml:"directory"`
	Level     string `mapstructure:"level" yaml:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("daemon.base_url", "http://127.0.0.1:4110")
	v.SetDefault("daemon.username", "")
	v.SetDefault("daemon.password", "")
	v.SetDefault("daemon.timeout_sec", 30)
	v.SetDefault("daemon.retry_count", 3)
	v.SetDefault("daemon.retry_delay_ms", 500)
	v.SetDefault("daemon.rate_per_second", 5)
	v.SetDefault("worker.workers", 2)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.full_policy", "reject")
	v.SetDefault("loops.queue_size", 256)
	v.SetDefault("sync.poll_interval", "5s")
	v.SetDefault("sync.feeds", []string{})
	v.SetDefault("sync.bundles", true)
	v.SetDefault("sync.resume", false)
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "data/tokens.db")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("server.sse_enabled", true)
	v.SetDefault("server.client_buffer", 64)
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("SERVALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("daemon.username", "SERVALSYNC_DAEMON_USERNAME")
	_ = v.BindEnv("daemon.password", "SERVALSYNC_DAEMON_PASSWORD")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	r := *c
	if r.Daemon.Password != "" {
		r.Daemon.Password = "****"
	}
	r.Sync.Feeds = append([]string(nil), c.Sync.Feeds...)
	return r
}

// Dump renders the effective configuration with secrets masked, in
// the same layout Load reads.
func (c *Config) Dump() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}
