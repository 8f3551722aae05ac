package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultChannelName is the broadcast channel instances announce themselves on.
const DefaultChannelName = "tab-detector"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Sync         SyncConfig         `yaml:"sync"`
	Boot         BootConfig         `yaml:"boot"`
	Guard        GuardConfig        `yaml:"guard"`
	Engine       EngineConfig       `yaml:"engine"`
	Storage      StorageConfig      `yaml:"storage"`
	Channel      ChannelConfig      `yaml:"channel"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Log          LogConfig          `yaml:"log"`
	Privacy      PrivacyConfig      `yaml:"privacy"`
	Settings     SettingsConfig     `yaml:"settings"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
	Throttle       time.Duration `yaml:"broadcast_throttle"`
	Snapshot       time.Duration `yaml:"snapshot_interval"`
	MaxClients     int           `yaml:"max_stream_clients"` // 0 means unlimited
	RelayPort      int           `yaml:"relay_port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

type BootConfig struct {
	StageTimeout time.Duration `yaml:"stage_timeout"`
	SafeMode     bool          `yaml:"safe_mode"`
	MinFreeDisk  uint64        `yaml:"min_free_disk_bytes"`
	MinFreeMem   uint64        `yaml:"min_free_mem_bytes"`
}

type GuardConfig struct {
	WaitWindow time.Duration `yaml:"wait_window"`
}

type EngineConfig struct {
	// Kind selects the engine implementation: "http" or "mock".
	Kind        string        `yaml:"kind"`
	URL         string        `yaml:"url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type StorageConfig struct {
	// Backend selects the key/value store: "file", "sqlite", "redis" or "memory".
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Namespace string `yaml:"namespace"`
}

type ChannelConfig struct {
	// Transport selects the broadcast transport: "memory", "redis" or "ws".
	Transport string `yaml:"transport"`
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	RedisAddr string `yaml:"redis_addr"`
}

type SubscriptionConfig struct {
	// Recheck is a cron spec for re-validating the subscription while the
	// engine runs. Empty disables the schedule.
	Recheck string `yaml:"recheck"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PrivacyConfig struct {
	MaskPublicID bool `yaml:"mask_public_id"`
	HideBalances bool `yaml:"hide_balances"`
}

// SettingsConfig holds the engine settings used when none are stored yet.
type SettingsConfig struct {
	Network          string `yaml:"network"`
	Proxy            string `yaml:"proxy"`
	Esplora          string `yaml:"esplora"`
	RGS              string `yaml:"rgs"`
	LSP              string `yaml:"lsp"`
	AuthURL          string `yaml:"auth_url"`
	SubscriptionsURL string `yaml:"subscriptions_url"`
	StorageURL       string `yaml:"storage_url"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       8080,
			Host:       "127.0.0.1",
			RateLimit:  20,
			RateBurst:  40,
			Throttle:   100 * time.Millisecond,
			Snapshot:   5 * time.Second,
			MaxClients: 32,
			RelayPort:  8090,
		},
		Sync: SyncConfig{
			Interval:         3 * time.Second,
			FailureThreshold: 3,
		},
		Boot: BootConfig{
			StageTimeout: 60 * time.Second,
			MinFreeDisk:  64 << 20,
			MinFreeMem:   32 << 20,
		},
		Guard: GuardConfig{
			WaitWindow: 500 * time.Millisecond,
		},
		Engine: EngineConfig{
			Kind:        "http",
			URL:         "http://127.0.0.1:9735",
			CallTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:   "file",
			RedisAddr: "127.0.0.1:6379",
			Namespace: "walletd",
		},
		Channel: ChannelConfig{
			Transport: "ws",
			Name:      DefaultChannelName,
			URL:       "ws://127.0.0.1:8090/channel",
			RedisAddr: "127.0.0.1:6379",
		},
		Subscription: SubscriptionConfig{
			Recheck: "@every 1h",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Settings: SettingsConfig{
			Network:          "signet",
			Proxy:            "wss://p.mutinywallet.com",
			Esplora:          "https://mutinynet.com/api",
			RGS:              "https://scorer.mutinywallet.com/v1/rgs/snapshot/",
			LSP:              "https://signet-lsp.mutinywallet.com",
			AuthURL:          "https://auth-staging.mutinywallet.com",
			SubscriptionsURL: "https://subscriptions-staging.mutinywallet.com",
			StorageURL:       "https://storage-staging.mutinywallet.com",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Guard.WaitWindow < 0 {
		return fmt.Errorf("guard.wait_window must not be negative, got %s", c.Guard.WaitWindow)
	}
	switch c.Storage.Backend {
	case "file", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Channel.Transport {
	case "memory", "redis", "ws":
	default:
		return fmt.Errorf("unknown channel.transport %q", c.Channel.Transport)
	}
	switch c.Engine.Kind {
	case "http", "mock":
	default:
		return fmt.Errorf("unknown engine.kind %q", c.Engine.Kind)
	}
	if c.Channel.Name == "" {
		c.Channel.Name = DefaultChannelName
	}
	return nil
}
