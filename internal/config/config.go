// Package config loads server settings from defaults, an optional YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ggoodman/redis-mcp-server/auth"
	"github.com/ggoodman/redis-mcp-server/internal/redisconn"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Session registry backends.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Log output formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config is the complete server configuration.
type Config struct {
	HTTP     HTTPConfig       `yaml:"http"`
	Log      LogConfig        `yaml:"log"`
	Auth     AuthConfig       `yaml:"auth"`
	Sessions SessionsConfig   `yaml:"sessions"`
	Redis    redisconn.Config `yaml:"redis"`
}

// HTTPConfig holds listener and transport settings.
type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"MCP_HTTP_ADDR"`
	BasePath          string        `yaml:"base_path" env:"MCP_BASE_PATH"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"MCP_KEEPALIVE_INTERVAL"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"MCP_SHUTDOWN_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"MCP_READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"MCP_IDLE_TIMEOUT"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"MCP_MAX_BODY_BYTES"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"MCP_LOG_LEVEL"`
	Format string `yaml:"format" env:"MCP_LOG_FORMAT"`
}

// AuthConfig mirrors auth.Config.
type AuthConfig struct {
	Method  string      `yaml:"method" env:"MCP_AUTH_METHOD"`
	APIKeys StringList  `yaml:"api_keys" env:"MCP_API_KEYS"`
	OAuth   OAuthConfig `yaml:"oauth"`
}

type OAuthConfig struct {
	TenantID       string     `yaml:"tenant_id" env:"MCP_OAUTH_TENANT_ID"`
	ClientID       string     `yaml:"client_id" env:"MCP_OAUTH_CLIENT_ID"`
	RequiredScopes StringList `yaml:"required_scopes" env:"MCP_OAUTH_REQUIRED_SCOPES"`
	Authority      string     `yaml:"authority" env:"MCP_OAUTH_AUTHORITY"`
	Discovery      bool       `yaml:"discovery" env:"MCP_OAUTH_DISCOVERY"`
}

// SessionsConfig selects and tunes the session registry.
type SessionsConfig struct {
	Backend   string        `yaml:"backend" env:"MCP_SESSIONS_BACKEND"`
	KeyPrefix string        `yaml:"key_prefix" env:"MCP_SESSIONS_KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"MCP_SESSIONS_TTL"`
	// PoolSize bounds the connections of the registry's own Redis client.
	// Every open stream holds one inside BLPOP, so it caps concurrent streams.
	PoolSize int `yaml:"pool_size" env:"MCP_SESSIONS_POOL_SIZE"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              "0.0.0.0:8000",
			KeepaliveInterval: 15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxBodyBytes:      4 << 20,
		},
		Log: LogConfig{Level: "info", Format: LogFormatJSON},
		Auth: AuthConfig{
			Method: string(auth.MethodDisabled),
		},
		Sessions: SessionsConfig{
			Backend:   SessionsMemory,
			KeyPrefix: "mcp:sse:",
			TTL:       5 * time.Minute,
			PoolSize:  256,
		},
		Redis: redisconn.Default(),
	}
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value. Unset variables
// expand to the empty string.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// LoadEnv overlays environment variables onto c. Unset variables leave the
// current value alone.
func (c *Config) LoadEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// Validate checks the settings that would otherwise fail later at runtime.
// Authentication settings are not validated here: auth.Select falls back to
// no authentication and logs the reason instead.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		errs = append(errs, fmt.Errorf("http.base_path %q must start with '/'", c.HTTP.BasePath))
	}
	if c.HTTP.KeepaliveInterval <= 0 {
		errs = append(errs, errors.New("http.keepalive_interval must be positive"))
	}
	if c.HTTP.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must not be negative"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	switch c.Sessions.Backend {
	case SessionsMemory, SessionsRedis:
	default:
		errs = append(errs, fmt.Errorf("sessions.backend %q must be memory or redis", c.Sessions.Backend))
	}
	if c.Sessions.Backend == SessionsRedis && c.Sessions.TTL <= c.HTTP.KeepaliveInterval {
		errs = append(errs, fmt.Errorf("sessions.ttl %s must exceed http.keepalive_interval %s", c.Sessions.TTL, c.HTTP.KeepaliveInterval))
	}
	if c.Sessions.Backend == SessionsRedis && c.Sessions.PoolSize <= 0 {
		errs = append(errs, errors.New("sessions.pool_size must be positive"))
	}
	if err := c.Redis.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SessionRedisConfig returns the connection settings for the session registry's
// client: the tools' Redis target with a pool sized for blocked streams.
func (c *Config) SessionRedisConfig() redisconn.Config {
	rc := c.Redis
	rc.PoolSize = c.Sessions.PoolSize
	return rc
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// Strategy returns the settings consumed by auth.Select.
func (a AuthConfig) Strategy() auth.Config {
	return auth.Config{
		Method:              a.Method,
		APIKeys:             a.APIKeys,
		OAuthTenantID:       a.OAuth.TenantID,
		OAuthClientID:       a.OAuth.ClientID,
		OAuthRequiredScopes: a.OAuth.RequiredScopes,
		OAuthAuthority:      a.OAuth.Authority,
		OAuthDiscovery:      a.OAuth.Discovery,
	}
}
