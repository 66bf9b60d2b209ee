package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ValidationError reports a rejected configuration document. No setting from
// a document that fails validation is ever applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s: %s", e.Field, e.Reason)
}

// Load reads, parses, and validates configuration from a file. The returned
// Config has defaults applied; an error means nothing was applied.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a configuration document, applies env interpolation and
// defaults, and validates it. All-or-nothing: a single invalid field rejects
// the whole document.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	// Decoding over a pre-populated Config keeps defaults for absent keys
	// while letting an explicit zero (default_max_retries: 0,
	// compression_threshold: 0) stand.
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginConf)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $REICORE_CONFIG_DIR, ~/.config/reicore, /etc/reicore, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("REICORE_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "reicore")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/reicore"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $REICORE_CONFIG_DIR, ~/.config/reicore, /etc/reicore, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return &ValidationError{Field: "service.log_level", Reason: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)}
	}

	if cfg.Orchestrator.MaxWorkers <= 0 {
		return &ValidationError{Field: "orchestrator.max_workers", Reason: "must be positive"}
	}
	if cfg.Orchestrator.QueueCapacity <= 0 {
		return &ValidationError{Field: "orchestrator.queue_capacity", Reason: "must be positive"}
	}
	if cfg.Orchestrator.DefaultMaxRetries < 0 {
		return &ValidationError{Field: "orchestrator.default_max_retries", Reason: "must not be negative"}
	}
	if cfg.Orchestrator.BackoffBase <= 0 {
		return &ValidationError{Field: "orchestrator.backoff_base", Reason: "must be positive"}
	}
	if cfg.Orchestrator.BackoffCap < cfg.Orchestrator.BackoffBase {
		return &ValidationError{Field: "orchestrator.backoff_cap", Reason: "must be >= backoff_base"}
	}
	if cfg.Orchestrator.DefaultTimeout <= 0 {
		return &ValidationError{Field: "orchestrator.default_timeout", Reason: "must be positive"}
	}
	if cfg.Orchestrator.ResultRetention <= 0 {
		return &ValidationError{Field: "orchestrator.result_retention", Reason: "must be positive"}
	}

	if cfg.Cache.LocalCapacity <= 0 {
		return &ValidationError{Field: "cache.local_capacity", Reason: "must be positive"}
	}
	if cfg.Cache.DefaultTTL <= 0 {
		return &ValidationError{Field: "cache.default_ttl", Reason: "must be positive"}
	}
	if cfg.Cache.CompressionThreshold < 0 {
		return &ValidationError{Field: "cache.compression_threshold", Reason: "must not be negative"}
	}
	if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.Addr == "" {
		return &ValidationError{Field: "cache.redis.addr", Reason: "required when redis is enabled"}
	}
	if cfg.Cache.Breaker.FailureThreshold <= 0 {
		return &ValidationError{Field: "cache.breaker.failure_threshold", Reason: "must be positive"}
	}
	if cfg.Cache.Breaker.ResetTimeout <= 0 {
		return &ValidationError{Field: "cache.breaker.reset_timeout", Reason: "must be positive"}
	}

	if cfg.History.Path == "" {
		return &ValidationError{Field: "history.path", Reason: "is required"}
	}
	if cfg.PluginsDir == "" {
		return &ValidationError{Field: "plugins_dir", Reason: "is required"}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return &ValidationError{Field: "api.listen", Reason: "required when api is enabled"}
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			return &ValidationError{Field: "api.auth.api_key", Reason: fmt.Sprintf("environment variable ${%s} is not set", matches[1])}
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return &ValidationError{Field: fmt.Sprintf("api.auth.tokens[%d].token", i), Reason: "is required"}
			}
			if envVarPattern.MatchString(tok.Token) {
				matches := envVarPattern.FindStringSubmatch(tok.Token)
				return &ValidationError{Field: fmt.Sprintf("api.auth.tokens[%d].token", i), Reason: fmt.Sprintf("environment variable ${%s} is not set", matches[1])}
			}
			if len(tok.Scopes) == 0 {
				return &ValidationError{Field: fmt.Sprintf("api.auth.tokens[%d].scopes", i), Reason: "must be non-empty"}
			}
		}
	}

	// Check for unresolved env vars in plugin config (security: no secrets leaked in logs)
	for name, plugin := range cfg.Plugins {
		if plugin.Config != nil {
			if err := checkUnresolvedEnvVars(plugin.Config, name); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]interface{}, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if envVarPattern.MatchString(v) {
				matches := envVarPattern.FindStringSubmatch(v)
				return &ValidationError{
					Field:  fmt.Sprintf("plugins.%s.config.%s", pluginName, key),
					Reason: fmt.Sprintf("environment variable ${%s} is not set", matches[1]),
				}
			}
		case map[string]interface{}:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		}
	}
	return nil
}
