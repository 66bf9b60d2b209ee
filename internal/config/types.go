package config

import "time"

// Config represents the complete reicore runtime configuration.
type Config struct {
	Service      ServiceConfig         `yaml:"service"`
	Orchestrator OrchestratorConfig    `yaml:"orchestrator"`
	Cache        CacheConfig           `yaml:"cache"`
	History      HistoryConfig         `yaml:"history"`
	PluginsDir   string                `yaml:"plugins_dir"`
	Plugins      map[string]PluginConf `yaml:"plugins"`
	API          APIConfig             `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// OrchestratorConfig defines worker pool and retry settings.
type OrchestratorConfig struct {
	MaxWorkers        int           `yaml:"max_workers"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	// ResultRetention bounds how long a terminal task stays queryable in
	// memory before it is evicted; the history store serves older lookups.
	ResultRetention time.Duration `yaml:"result_retention"`
}

// CacheConfig defines the two-tier cache settings.
type CacheConfig struct {
	LocalCapacity        int                  `yaml:"local_capacity"`
	DefaultTTL           time.Duration        `yaml:"default_ttl"`
	CompressionThreshold int                  `yaml:"compression_threshold"`
	Redis                RedisConfig          `yaml:"redis"`
	Breaker              CircuitBreakerConfig `yaml:"breaker"`
}

// RedisConfig defines the remote cache tier connection.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// CircuitBreakerConfig defines remote-tier circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// HistoryConfig defines task history storage settings.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// PluginConf defines configuration for a single plugin.
type PluginConf struct {
	Enabled bool                   `yaml:"enabled"`
	Config  map[string]interface{} `yaml:"config,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with admin/full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "reicore",
			LogLevel: "info",
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:        4,
			QueueCapacity:     256,
			DefaultMaxRetries: 3,
			BackoffBase:       200 * time.Millisecond,
			BackoffCap:        30 * time.Second,
			DefaultTimeout:    60 * time.Second,
			DrainTimeout:      30 * time.Second,
			ResultRetention:   5 * time.Minute,
		},
		Cache: CacheConfig{
			LocalCapacity:        1024,
			DefaultTTL:           time.Hour,
			CompressionThreshold: 1024,
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "127.0.0.1:6379",
				DB:      0,
			},
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     15 * time.Minute,
			},
		},
		History: HistoryConfig{
			Path: "./data/history.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		PluginsDir: "./plugins",
		Plugins:    make(map[string]PluginConf),
	}
}
