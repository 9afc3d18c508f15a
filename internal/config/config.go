package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cligate/internal/backend/claude"
	"cligate/internal/backend/copilot"
)

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 3456
	defaultCopilotModel    = "gpt-4.1"
	defaultTimeout         = 5 * time.Minute
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = time.Minute
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// Config represents the application configuration parsed from YAML and the
// environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BackendConfig selects and tunes the CLI agent behind the API.
type BackendConfig struct {
	Service       string            `yaml:"service"`
	DefaultModel  string            `yaml:"default_model"`
	Timeout       time.Duration     `yaml:"timeout"`
	TempDirBase   string            `yaml:"temp_dir_base"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Env           map[string]string `yaml:"env"`
	Copilot       CopilotConfig     `yaml:"copilot"`
	Claude        ClaudeConfig      `yaml:"claude"`
}

// CopilotConfig locates the Copilot CLI.
type CopilotConfig struct {
	CLIPath string `yaml:"cli_path"`
}

// ClaudeConfig locates the Claude Code CLI and its fixed model.
type ClaudeConfig struct {
	CLIPath string `yaml:"cli_path"`
	Model   string `yaml:"model"`
}

// SecurityConfig holds API key and CORS settings.
type SecurityConfig struct {
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RateLimitConfig allows Max requests per client IP within Window.
type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level           string `yaml:"level"`
	Format          string `yaml:"format"`
	File            string `yaml:"file"`
	LogRequestBody  bool   `yaml:"log_request_body"`
	LogResponseBody bool   `yaml:"log_response_body"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: defaultHost,
			Port: defaultPort,
		},
		Backend: BackendConfig{
			Service:     copilot.Name,
			Timeout:     defaultTimeout,
			TempDirBase: os.TempDir(),
			Copilot:     CopilotConfig{CLIPath: "copilot"},
			Claude:      ClaudeConfig{CLIPath: "claude", Model: claude.DefaultModel},
		},
		Security: SecurityConfig{
			CORSOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Max:    defaultRateLimitMax,
			Window: defaultRateLimitWindow,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Load reads an optional YAML file, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return Config{}, err
		}
	}

	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch c.Backend.Service {
	case copilot.Name:
		if strings.TrimSpace(c.Backend.Copilot.CLIPath) == "" {
			return fmt.Errorf("backend.copilot.cli_path must be provided")
		}
	case claude.Name:
		if strings.TrimSpace(c.Backend.Claude.CLIPath) == "" {
			return fmt.Errorf("backend.claude.cli_path must be provided")
		}
		if strings.TrimSpace(c.Backend.Claude.Model) == "" {
			return fmt.Errorf("backend.claude.model must be provided")
		}
	default:
		return fmt.Errorf("backend.service %q must be one of %q or %q", c.Backend.Service, copilot.Name, claude.Name)
	}

	if strings.TrimSpace(c.Backend.DefaultModel) == "" {
		return fmt.Errorf("backend.default_model must not be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout)
	}
	if strings.TrimSpace(c.Backend.TempDirBase) == "" {
		return fmt.Errorf("backend.temp_dir_base must be provided")
	}
	if c.Backend.MaxConcurrent < 0 {
		return fmt.Errorf("backend.max_concurrent must not be negative, got %d", c.Backend.MaxConcurrent)
	}
	for key := range c.Backend.Env {
		if strings.TrimSpace(key) == "" || strings.Contains(key, "=") {
			return fmt.Errorf("backend.env key %q is not a valid environment variable name", key)
		}
	}

	if c.RateLimit.Max < 0 {
		return fmt.Errorf("rate_limit.max must not be negative, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Max > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive when rate_limit.max is set")
	}

	if err := validateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be \"text\" or \"json\"", c.Logging.Format)
	}

	return nil
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) fillDerived() {
	if strings.TrimSpace(c.Backend.DefaultModel) != "" {
		return
	}
	if c.Backend.Service == claude.Name {
		c.Backend.DefaultModel = c.Backend.Claude.Model
		return
	}
	c.Backend.DefaultModel = defaultCopilotModel
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	num := func(key string, target *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("environment %s: %w", key, err)
		}
		*target = n
		return nil
	}
	millis := func(key string, target *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := parseMillis(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("environment %s: %w", key, err)
		}
		*target = d
		return nil
	}
	flag := func(key string, target *bool) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("environment %s: %w", key, err)
		}
		*target = b
		return nil
	}

	str("HOST", &c.Server.Host)
	str("SERVICE", &c.Backend.Service)
	str("DEFAULT_MODEL", &c.Backend.DefaultModel)
	str("COPILOT_CLI_PATH", &c.Backend.Copilot.CLIPath)
	str("CLAUDE_CLI_PATH", &c.Backend.Claude.CLIPath)
	str("CLAUDE_MODEL", &c.Backend.Claude.Model)
	str("TEMP_DIR_BASE", &c.Backend.TempDirBase)
	str("API_KEY", &c.Security.APIKey)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_FILE", &c.Logging.File)

	if v, ok := lookup("CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.Security.CORSOrigins = splitList(v)
	}

	for _, step := range []error{
		num("PORT", &c.Server.Port),
		num("MAX_CONCURRENT", &c.Backend.MaxConcurrent),
		num("RATE_LIMIT_MAX", &c.RateLimit.Max),
		millis("REQUEST_TIMEOUT", &c.Backend.Timeout),
		millis("RATE_LIMIT_WINDOW", &c.RateLimit.Window),
		flag("LOG_REQUEST_BODY", &c.Logging.LogRequestBody),
		flag("LOG_RESPONSE_BODY", &c.Logging.LogResponseBody),
	} {
		if step != nil {
			return step
		}
	}
	return nil
}

// parseMillis accepts a bare integer of milliseconds or a Go duration.
func parseMillis(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", level)
	}
}
