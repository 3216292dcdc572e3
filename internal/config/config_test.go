package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlConfig = `
format_version = "0.1.0"

[source]
url = "https://source.example.com"
org_id = "acme"
token = "source-token"

[catalog]
client_id = "client-id"
client_secret = "client-secret"

[sync]
max_concurrency = 8
stages = ["applications", "graph"]

[http]
timeout = "30s"
retry_attempts = 3

[log]
level = "debug"
console = true
`

const yamlConfig = `
format_version: "0.1.0"
source:
  org_id: acme
  token: source-token
catalog:
  url: https://catalog.example.com
  client_id: client-id
  client_secret: client-secret
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvSourceToken, EnvSourceOrgID, EnvSourceURL, EnvCatalogClientID, EnvCatalogClientSecret, EnvCatalogURL} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "catalogsync.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://source.example.com", cfg.Source.URL)
	assert.Equal(t, "acme", cfg.Source.OrgID)
	assert.Equal(t, DefaultCatalogURL, cfg.Catalog.URL)
	assert.Equal(t, 8, cfg.Sync.MaxConcurrency)
	assert.Equal(t, []string{"applications", "graph"}, cfg.Sync.Stages)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)

	opts := cfg.HTTP.ClientOptions()
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, uint(3), opts.RetryAttempts)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "catalogsync.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultSourceURL, cfg.Source.URL)
	assert.Equal(t, "https://catalog.example.com", cfg.Catalog.URL)
	assert.Equal(t, uint(1), cfg.HTTP.RetryAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "c.toml", tomlConfig+"\n[extra]\nfoo = 1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeFile(t, "c.yml", yamlConfig+"bogus: true\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSourceToken, "env-token")
	t.Setenv(EnvSourceOrgID, "env-org")
	t.Setenv(EnvCatalogClientID, "env-id")
	t.Setenv(EnvCatalogClientSecret, "env-secret")
	t.Setenv(EnvCatalogURL, "https://eu.catalog.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Source.Token)
	assert.Equal(t, "env-org", cfg.Source.OrgID)
	assert.Equal(t, "https://eu.catalog.example.com", cfg.Catalog.URL)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSourceToken, "override")
	cfg, err := Load(writeFile(t, "catalogsync.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Source.Token)
	assert.Equal(t, "client-secret", cfg.Catalog.ClientSecret)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// t.Setenv("", ...) leaves empty values set, which godotenv does not override
	for _, k := range []string{EnvSourceToken, EnvSourceOrgID, EnvCatalogClientID, EnvCatalogClientSecret} {
		require.NoError(t, os.Unsetenv(k))
	}
	dotenv := EnvSourceToken + "=dot-token\n" + EnvSourceOrgID + "=dot-org\n" +
		EnvCatalogClientID + "=dot-id\n" + EnvCatalogClientSecret + "=dot-secret\n"
	require.NoError(t, os.WriteFile(".env", []byte(dotenv), 0600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dot-token", cfg.Source.Token)
	assert.Equal(t, "dot-secret", cfg.Catalog.ClientSecret)
}

func TestMissingCredentials(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "c.toml", "format_version = \"0.1.0\"\n[source]\norg_id = \"acme\"\n"))
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), EnvSourceToken)
	assert.Contains(t, err.Error(), EnvCatalogClientSecret)
	assert.NotContains(t, err.Error(), EnvSourceOrgID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Source.OrgID, cfg.Source.Token = "acme", "t"
		cfg.Catalog.ClientID, cfg.Catalog.ClientSecret = "id", "secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"format version", func(c *Config) { c.FormatVersion = "9.9.9" }},
		{"source url", func(c *Config) { c.Source.URL = "not a url" }},
		{"stage", func(c *Config) { c.Sync.Stages = []string{"deploy"} }},
		{"concurrency", func(c *Config) { c.Sync.MaxConcurrency = -1 }},
		{"retry attempts", func(c *Config) { c.HTTP.RetryAttempts = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"timeout", func(c *Config) { c.HTTP.Timeout = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestTimeoutDuration(t *testing.T) {
	d, err := HTTPConfig{Timeout: "2d"}.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = HTTPConfig{}.TimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = HTTPConfig{Timeout: "xd"}.TimeoutDuration()
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Source.Token = "abcdefgh"
	cfg.Catalog.ClientSecret = "xyz"
	r := cfg.Redacted()
	assert.Equal(t, "ab****gh", r.Source.Token)
	assert.Equal(t, "****", r.Catalog.ClientSecret)
	assert.Equal(t, "abcdefgh", cfg.Source.Token)
}
