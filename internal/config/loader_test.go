package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("FLEETCTL_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := NewLoader(viper.New(), "").Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "all", cfg.UI.Filter)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetctl.yaml")
	content := `
server:
  url: https://fleet.example.com
api:
  request_timeout: 5s
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FLEETCTL_AUTH_TOKEN", "from-env")

	cfg, err := NewLoader(viper.New(), path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://fleet.example.com", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "from-env", cfg.Auth.Token)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestValidateFileOutputNeedsPath(t *testing.T) {
	cfg := &Config{
		Server: &ServerConfig{URL: "http://x"},
		Log:    &LogConfig{Output: "file"},
	}
	assert.Error(t, Validate(cfg))
}

func TestCredentialsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FLEETCTL_HOME", home)

	cfg := &Config{Auth: &AuthConfig{}}
	path, err := cfg.CredentialsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "credentials.json"), path)

	cfg.Auth.CredentialsFile = "/tmp/creds.json"
	path, err = cfg.CredentialsPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/creds.json", path)
}
