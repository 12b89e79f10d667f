package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Directory.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Directory.Timeout())
	assert.Equal(t, 50, cfg.Directory.SizeLimit)
	assert.True(t, cfg.CloudID.Enabled)
	assert.True(t, cfg.ContactCenter.Enabled)
	assert.InDelta(t, 5.0, cfg.ContactCenter.RequestsPerSec, 0.001)
	assert.Equal(t, 10*time.Second, cfg.Search.BackendTimeout())
	assert.Equal(t, 3, cfg.Search.MinTermLength)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL())
	assert.Equal(t, 5*time.Minute, cfg.Cache.SweepEvery())
	assert.Equal(t, 30*time.Second, cfg.Token.Buffer())
	assert.Equal(t, 10*time.Minute, cfg.Token.RefreshThreshold())
	assert.Equal(t, 5*time.Minute, cfg.Token.Interval())
	assert.Empty(t, cfg.Merge.PriorityFile)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
directory:
  url: ldaps://ldap.example.com:636
  bind_dn: cn=svc-lookup,ou=services,dc=example,dc=com
  base_dn: ou=people,dc=example,dc=com
cloudid:
  base_url: https://identity.example.com
  oauth:
    token_url: https://login.example.com/oauth2/token
    client_id: lookup-client
contactcenter:
  enabled: false
log:
  level: debug
  format: console
server:
  port: 9090
cache:
  ttl_secs: 600
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ldaps://ldap.example.com:636", cfg.Directory.URL)
	assert.Equal(t, "ou=people,dc=example,dc=com", cfg.Directory.BaseDN)
	assert.Equal(t, "lookup-client", cfg.CloudID.OAuth.ClientID)
	assert.False(t, cfg.ContactCenter.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL())
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Directory.SizeLimit)
	assert.True(t, cfg.Directory.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: debug
directory:
  url: ldaps://ldap.example.com:636
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PEOPLE_LOG_LEVEL", "warn")
	t.Setenv("PEOPLE_DIRECTORY_URL", "ldaps://backup.example.com:636")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "ldaps://backup.example.com:636", cfg.Directory.URL)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("PEOPLE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validConfig returns a Config that passes validation for both modes.
func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Directory.Enabled = true
	cfg.Directory.URL = "ldaps://ldap.example.com:636"
	cfg.Directory.BaseDN = "ou=people,dc=example,dc=com"
	cfg.CloudID.Enabled = true
	cfg.CloudID.BaseURL = "https://identity.example.com"
	cfg.CloudID.OAuth = OAuthClientConfig{
		TokenURL:     "https://login.example.com/oauth2/token",
		ClientID:     "lookup-client",
		ClientSecret: "secret",
	}
	cfg.ContactCenter.Enabled = true
	cfg.ContactCenter.BaseURL = "https://cc.example.com"
	cfg.ContactCenter.OAuth = OAuthClientConfig{
		TokenURL:     "https://cc.example.com/oauth2/token",
		ClientID:     "lookup-client",
		ClientSecret: "secret",
	}
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate("search"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_NoBackendsEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Directory.Enabled = false
	cfg.CloudID.Enabled = false
	cfg.ContactCenter.Enabled = false

	err := cfg.Validate("search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one backend must be enabled")
}

func TestValidate_DirectoryMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.Directory.URL = ""
	cfg.Directory.BaseDN = ""

	err := cfg.Validate("search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.url is required")
	assert.Contains(t, err.Error(), "directory.base_dn is required")
}

func TestValidate_OAuthMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.CloudID.OAuth.ClientSecret = ""
	cfg.ContactCenter.OAuth.TokenURL = ""

	err := cfg.Validate("search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloudid.oauth.client_secret is required")
	assert.Contains(t, err.Error(), "contactcenter.oauth.token_url is required")
}

func TestValidate_DisabledBackendNotChecked(t *testing.T) {
	cfg := validConfig()
	cfg.ContactCenter.Enabled = false
	cfg.ContactCenter.BaseURL = ""
	cfg.ContactCenter.OAuth = OAuthClientConfig{}

	assert.NoError(t, cfg.Validate("search"))
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0

	// Only serve cares about the port.
	assert.NoError(t, cfg.Validate("search"))
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validConfig()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
