package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fl, err := ParseFlags(args)
	require.NoError(t, err)
	return Load(fl)
}

func TestDefaultsAreValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 15*time.Second, c.HTTP.KeepaliveInterval)
	assert.Equal(t, SessionsMemory, c.Sessions.Backend)
	assert.Equal(t, "127.0.0.1", c.Redis.Host)
	assert.Equal(t, 6379, c.Redis.Port)
}

func TestFileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_MCP_TENANT", "tenant-123")
	path := writeFile(t, `
http:
  addr: 127.0.0.1:9100
  base_path: /mcp
  keepalive_interval: 5s
log:
  level: debug
  format: text
auth:
  method: OAUTH
  api_keys: "one, two ,,three"
  oauth:
    tenant_id: ${TEST_MCP_TENANT}
    client_id: app-id
    required_scopes: [MCP.Read, " MCP.Write "]
sessions:
  backend: redis
  ttl: 2m
redis:
  host: cache.local
  db: 2
`)

	c, err := load(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", c.HTTP.Addr)
	assert.Equal(t, "/mcp", c.HTTP.BasePath)
	assert.Equal(t, 5*time.Second, c.HTTP.KeepaliveInterval)
	assert.Equal(t, StringList{"one", "two", "three"}, c.Auth.APIKeys)
	assert.Equal(t, "tenant-123", c.Auth.OAuth.TenantID)
	assert.Equal(t, StringList{"MCP.Read", "MCP.Write"}, c.Auth.OAuth.RequiredScopes)
	assert.Equal(t, SessionsRedis, c.Sessions.Backend)
	assert.Equal(t, 2*time.Minute, c.Sessions.TTL)
	assert.Equal(t, "cache.local", c.Redis.Host)
	assert.Equal(t, 2, c.Redis.DB)
	assert.Equal(t, 6379, c.Redis.Port, "unset keys keep their defaults")

	lvl, err := c.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "http:\n  addr: 127.0.0.1:9100\nredis:\n  port: 7000\n")
	t.Setenv("MCP_HTTP_ADDR", "127.0.0.1:9200")
	t.Setenv("MCP_API_KEYS", "k1, k2")
	t.Setenv("REDIS_SSL", "true")
	t.Setenv("MCP_KEEPALIVE_INTERVAL", "30s")

	c, err := load(t, "-c", path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9200", c.HTTP.Addr)
	assert.Equal(t, StringList{"k1", "k2"}, c.Auth.APIKeys)
	assert.True(t, c.Redis.SSL)
	assert.Equal(t, 7000, c.Redis.Port)
	assert.Equal(t, 30*time.Second, c.HTTP.KeepaliveInterval)
}

func TestFlagsOverrideEverything(t *testing.T) {
	path := writeFile(t, "redis:\n  db: 5\n  host: from-file\n")
	t.Setenv("REDIS_HOST", "from-env")

	c, err := load(t,
		"--config", path,
		"--host", "from-flag",
		"--api-key", "a", "--api-key", "b",
		"--auth-method", "API-KEY",
		"--log-format", "text",
		"--keepalive", "1s",
	)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", c.Redis.Host)
	assert.Equal(t, 5, c.Redis.DB, "flags that are not passed do not override")
	assert.Equal(t, StringList{"a", "b"}, c.Auth.APIKeys)
	assert.Equal(t, "API-KEY", c.Auth.Method)
	assert.Equal(t, LogFormatText, c.Log.Format)
	assert.Equal(t, time.Second, c.HTTP.KeepaliveInterval)
}

func TestExplicitZeroFlagOverrides(t *testing.T) {
	path := writeFile(t, "redis:\n  db: 5\n")

	c, err := load(t, "--config", path, "--db", "0")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Redis.DB)
}

func TestValidateCollectsErrors(t *testing.T) {
	c := Default()
	c.HTTP.BasePath = "mcp"
	c.Log.Format = "xml"
	c.Log.Level = "loud"
	c.Sessions.Backend = "etcd"

	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"base_path", "log.format", "log.level", "sessions.backend"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedisSessionsNeedTTLAboveKeepalive(t *testing.T) {
	c := Default()
	c.Sessions.Backend = SessionsRedis
	c.Sessions.TTL = c.HTTP.KeepaliveInterval

	assert.ErrorContains(t, c.Validate(), "sessions.ttl")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestParseFlags(t *testing.T) {
	_, err := ParseFlags([]string{"--help"})
	assert.True(t, IsHelp(err))

	_, err = ParseFlags([]string{"--log-format", "xml"})
	require.Error(t, err)
	assert.False(t, IsHelp(err))

	_, err = ParseFlags([]string{"stray"})
	assert.ErrorContains(t, err, "unexpected arguments")
}

func TestAuthStrategyConfig(t *testing.T) {
	a := AuthConfig{
		Method:  "bearer",
		APIKeys: StringList{"k"},
		OAuth: OAuthConfig{
			TenantID:       "t",
			ClientID:       "c",
			RequiredScopes: StringList{"s"},
			Authority:      "https://login.example.com",
			Discovery:      true,
		},
	}
	s := a.Strategy()
	assert.Equal(t, "bearer", s.Method)
	assert.Equal(t, []string{"k"}, s.APIKeys)
	assert.Equal(t, "t", s.OAuthTenantID)
	assert.Equal(t, "c", s.OAuthClientID)
	assert.Equal(t, []string{"s"}, s.OAuthRequiredScopes)
	assert.Equal(t, "https://login.example.com", s.OAuthAuthority)
	assert.True(t, s.OAuthDiscovery)
}

func TestSessionRegistryGetsItsOwnPool(t *testing.T) {
	t.Setenv("MCP_SESSIONS_POOL_SIZE", "1024")
	path := writeFile(t, "sessions:\n  backend: redis\nredis:\n  host: cache.local\n  pool_size: 8\n")

	c, err := load(t, "--config", path)
	require.NoError(t, err)

	rc := c.SessionRedisConfig()
	assert.Equal(t, 1024, rc.PoolSize)
	assert.Equal(t, "cache.local", rc.Host)
	assert.Equal(t, 8, c.Redis.PoolSize, "the tools' pool is left alone")
}

func TestRedisSessionsNeedPositivePool(t *testing.T) {
	c := Default()
	c.Sessions.Backend = SessionsRedis
	c.Sessions.PoolSize = 0

	assert.ErrorContains(t, c.Validate(), "sessions.pool_size")
}
