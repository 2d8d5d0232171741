package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", DriverMongo)
	t.Setenv("MONGO_TRANSACTIONS", "true")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("FEED_MAX_USERS", "25")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.True(t, cfg.MongoTransactions)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 25, cfg.FeedMaxUsers)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TOKEN_TTL", "forever")
	t.Setenv("FEED_PAGE_MAX", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_TTL")
	assert.Contains(t, err.Error(), "FEED_PAGE_MAX")
}

func TestConfigFileOverridesEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "wordcraft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
feed_page_max: 20
retry_max_delay: 3s
allowed_origins: ["https://app.example"]
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Port)
	assert.Equal(t, 20, cfg.FeedPageMax)
	assert.Equal(t, 3*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, []string{"https://app.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel, "unset file keys keep the environment value")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []byte("wordcraft-dev-secret"), cfg.Secret())

	cfg.Env = "production"
	require.Error(t, cfg.Validate())
	cfg.JWTSecret = "s3cret"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []byte("s3cret"), cfg.Secret())

	cfg.StoreDriver = "postgres"
	require.Error(t, cfg.Validate())
}

func TestNormalizePort(t *testing.T) {
	assert.Equal(t, ":8080", normalizePort(""))
	assert.Equal(t, ":3000", normalizePort("3000"))
	assert.Equal(t, "127.0.0.1:3000", normalizePort("127.0.0.1:3000"))
}
