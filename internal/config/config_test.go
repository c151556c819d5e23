package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHCORE_JWT_SECRET", "access-signing-key-0123456789abcdef")
	t.Setenv("AUTHCORE_REFRESH_SECRET", "refresh-signing-key-0123456789abcdef")
}

func noEnvFile(t *testing.T) string {
	t.Helper()
	return "--env-file=" + filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.Equal(t, "IN", cfg.DefaultRegion)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, "access-signing-key-0123456789abcdef", cfg.JWTSecret)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("AUTHCORE_JWT_SECRET", "")
	os.Unsetenv("AUTHCORE_JWT_SECRET")

	_, err := Load([]string{noEnvFile(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHCORE_JWT_SECRET")
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	setSecrets(t)
	t.Setenv("AUTHCORE_HTTP_ADDR", ":9090")
	t.Setenv("AUTHCORE_ACCESS_TTL", "15m")
	t.Setenv("AUTHCORE_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.5")
	t.Setenv("AUTHCORE_COOKIE_SECURE", "false")

	cfg, err := Load([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.TrustedProxies)
	assert.False(t, cfg.CookieSecure)
}

func TestFlagsWinOverEnvironment(t *testing.T) {
	setSecrets(t)
	t.Setenv("AUTHCORE_HTTP_ADDR", ":9090")
	t.Setenv("AUTHCORE_LOG_LEVEL", "debug")

	cfg, err := Load([]string{noEnvFile(t), "--http-addr", ":7070"})
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvFileBelowEnvironment(t *testing.T) {
	setSecrets(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"AUTHCORE_STORE=postgres\n"+
			"AUTHCORE_POSTGRES_DSN=postgres://auth@localhost/auth\n"+
			"AUTHCORE_DEFAULT_REGION=GB\n",
	), 0o600))
	t.Setenv("AUTHCORE_DEFAULT_REGION", "IN")

	cfg, err := Load([]string{"--env-file", path})
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://auth@localhost/auth", cfg.PostgresDSN)
	assert.Equal(t, "IN", cfg.DefaultRegion)
}

func TestLoadRejectsBadValues(t *testing.T) {
	setSecrets(t)

	t.Run("bad duration in env", func(t *testing.T) {
		t.Setenv("AUTHCORE_REFRESH_TTL", "a week")
		_, err := Load([]string{noEnvFile(t)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTHCORE_REFRESH_TTL")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := Load([]string{noEnvFile(t), "--no-such-flag"})
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.JWTSecret = "access-signing-key-0123456789abcdef"
		cfg.RefreshSecret = "refresh-signing-key-0123456789abcdef"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.HTTPAddr = " " }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "sqlite" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store = StorePostgres }, wantErr: true},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store = StoreMongo }, wantErr: true},
		{name: "mongo with uri", mutate: func(c *Config) {
			c.Store = StoreMongo
			c.MongoURI = "mongodb://localhost:27017"
		}},
		{name: "missing refresh secret", mutate: func(c *Config) { c.RefreshSecret = "" }, wantErr: true},
		{name: "zero shutdown", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
		{name: "otel without interval", mutate: func(c *Config) {
			c.OTel = true
			c.OTelInterval = 0
		}, wantErr: true},
		{name: "interval ignored when otel off", mutate: func(c *Config) { c.OTelInterval = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if tc.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestEngineConfigIsValid(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = "access-signing-key-0123456789abcdef"
	cfg.RefreshSecret = "refresh-signing-key-0123456789abcdef"
	cfg.AccessTTL = 30 * time.Minute
	cfg.CookieDomain = "railconnect.example"

	engine := cfg.Engine()
	require.NoError(t, engine.Validate())
	assert.Equal(t, 30*time.Minute, engine.JWT.AccessTTL)
	assert.Equal(t, "railconnect.example", engine.Cookie.Domain)
	assert.True(t, engine.Audit.Enabled)
	assert.Equal(t, "IN", engine.Identity.DefaultRegion)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "AUTHCORE_HTTP_ADDR", EnvName("http-addr"))
	assert.Equal(t, "AUTHCORE_REDIS_DB", EnvName("redis-db"))
}

func TestParseReturnsPositionalArgs(t *testing.T) {
	setSecrets(t)

	cfg, rest, err := Parse("authctl", []string{noEnvFile(t), "--store", "memory", "suspend", "u-42"})
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"suspend", "u-42"}, rest)

	_, err = Load([]string{noEnvFile(t), "serve"})
	assert.Error(t, err)
}
