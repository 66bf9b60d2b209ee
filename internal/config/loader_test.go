package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test-core
plugins_dir: ./plugins
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-core", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 4, cfg.Orchestrator.MaxWorkers)
	assert.Equal(t, 256, cfg.Orchestrator.QueueCapacity)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 1024, cfg.Cache.CompressionThreshold)
	assert.Equal(t, 5, cfg.Cache.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Cache.Breaker.ResetTimeout)
}

func TestLoadKeepsExplicitZeroValues(t *testing.T) {
	cfg, err := Parse([]byte(`
orchestrator:
  default_max_retries: 0
cache:
  compression_threshold: 0
`))
	require.NoError(t, err)

	// Zero retries and an always-compress threshold are deliberate operator
	// choices, not omissions.
	assert.Equal(t, 0, cfg.Orchestrator.DefaultMaxRetries)
	assert.Equal(t, 0, cfg.Cache.CompressionThreshold)

	// Keys absent from the document still pick up defaults.
	assert.Equal(t, 4, cfg.Orchestrator.MaxWorkers)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name: "bad log level",
			content: `
service:
  log_level: verbose
`,
			field: "service.log_level",
		},
		{
			name: "negative workers",
			content: `
orchestrator:
  max_workers: -2
`,
			field: "orchestrator.max_workers",
		},
		{
			name: "backoff cap below base",
			content: `
orchestrator:
  backoff_base: 10s
  backoff_cap: 1s
`,
			field: "orchestrator.backoff_cap",
		},
		{
			name: "api token without scopes",
			content: `
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    tokens:
      - token: abc123
`,
			field: "api.auth.tokens[0].scopes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("REICORE_TEST_ADDR", "10.0.0.5:6379")

	cfg, err := Parse([]byte(`
cache:
  redis:
    enabled: true
    addr: ${REICORE_TEST_ADDR}
`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", cfg.Cache.Redis.Addr)
}

func TestLoadRejectsUnresolvedPluginEnvVar(t *testing.T) {
	_, err := Parse([]byte(`
plugins:
  zillow_data_source:
    enabled: true
    config:
      api_key: ${REICORE_UNSET_VAR_FOR_TEST}
`))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "REICORE_UNSET_VAR_FOR_TEST")
}

func TestLoadDirectoryResolvesConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: from-dir\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-dir", cfg.Service.Name)
}
