package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3456", cfg.Address())
	assert.Equal(t, "copilot", cfg.Backend.Service)
	assert.Equal(t, "gpt-4.1", cfg.Backend.DefaultModel)
	assert.Equal(t, 5*time.Minute, cfg.Backend.Timeout)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Zero(t, cfg.Backend.MaxConcurrent)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestClaudeServiceDefaultsToFixedModel(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(map[string]string{"SERVICE": "claude"}))
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Backend.DefaultModel)

	cfg, err = LoadWithEnv("", envMap(map[string]string{"SERVICE": "claude", "CLAUDE_MODEL": "claude-opus-4"}))
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", cfg.Backend.DefaultModel)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
backend:
  service: copilot
  default_model: gpt-5
  timeout: 90s
  max_concurrent: 4
  env:
    GH_TOKEN: secret
  copilot:
    cli_path: /opt/copilot
security:
  api_key: sk-test
  cors_origins: ["https://example.com"]
rate_limit:
  max: 10
  window: 30s
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := LoadWithEnv(path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gpt-5", cfg.Backend.DefaultModel)
	assert.Equal(t, 90*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 4, cfg.Backend.MaxConcurrent)
	assert.Equal(t, map[string]string{"GH_TOKEN": "secret"}, cfg.Backend.Env)
	assert.Equal(t, "/opt/copilot", cfg.Backend.Copilot.CLIPath)
	assert.Equal(t, "sk-test", cfg.Security.APIKey)
	assert.Equal(t, []string{"https://example.com"}, cfg.Security.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600))

	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		"PORT":              "9000",
		"REQUEST_TIMEOUT":   "1500",
		"RATE_LIMIT_WINDOW": "2m",
		"CORS_ORIGINS":      "https://a.test, https://b.test,",
		"LOG_RESPONSE_BODY": "true",
		"MAX_CONCURRENT":    "2",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Backend.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Security.CORSOrigins)
	assert.True(t, cfg.Logging.LogResponseBody)
	assert.Equal(t, 2, cfg.Backend.MaxConcurrent)
}

func TestInvalidEnv(t *testing.T) {
	_, err := LoadWithEnv("", envMap(map[string]string{"PORT": "eighty"}))
	assert.ErrorContains(t, err, "PORT")

	_, err = LoadWithEnv("", envMap(map[string]string{"LOG_REQUEST_BODY": "maybe"}))
	assert.ErrorContains(t, err, "LOG_REQUEST_BODY")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":         func(c *Config) { c.Server.Port = 70000 },
		"unknown service":  func(c *Config) { c.Backend.Service = "gemini" },
		"empty cli path":   func(c *Config) { c.Backend.Copilot.CLIPath = " " },
		"zero timeout":     func(c *Config) { c.Backend.Timeout = 0 },
		"negative limit":   func(c *Config) { c.Backend.MaxConcurrent = -1 },
		"bad log level":    func(c *Config) { c.Logging.Level = "loud" },
		"bad log format":   func(c *Config) { c.Logging.Format = "xml" },
		"bad env key":      func(c *Config) { c.Backend.Env = map[string]string{"A=B": "x"} },
		"no window":        func(c *Config) { c.RateLimit.Window = 0 },
		"no default model": func(c *Config) { c.Backend.DefaultModel = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Backend.DefaultModel = "gpt-4.1"
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.Error(t, err)
}
