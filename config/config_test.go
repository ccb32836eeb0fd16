package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
emby:
  base_url: http://emby:8096
  api_key: abc
proxy:
  base_url: https://proxy.example.com
database:
  url: postgres://localhost/embyproxy
aggregate:
  window: 20s
`), 0o600))

	t.Setenv("EMBYPROXY_LOG__LEVEL", "debug")
	t.Setenv("EMBYPROXY_EMBY__BASE_URL", "http://emby-override:8096")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://emby-override:8096", cfg.Emby.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20*time.Second, cfg.Aggregate.Window)
	assert.Equal(t, "0.0.0.0:8095", cfg.Server.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Cache.LinkTTL)
}

func TestLoadRejectsNonHTTPBaseURL(t *testing.T) {
	t.Setenv("EMBYPROXY_EMBY__BASE_URL", "emby:8096")
	t.Setenv("EMBYPROXY_PROXY__BASE_URL", "https://proxy.example.com")
	t.Setenv("EMBYPROXY_DATABASE__URL", "postgres://localhost/embyproxy")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emby.base_url")
}

func TestLoadMissingRequiredFields(t *testing.T) {
	t.Setenv("EMBYPROXY_EMBY__BASE_URL", "")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emby.base_url")
}
