package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultEndpoint, cfg.Endpoint)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint: https://api.example.com/graphql
timeout: 3s
headers:
  X-Client: cli
telemetry:
  endpoint: localhost:4317
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "https://api.example.com/graphql", cfg.Endpoint)
	require.Equal(t, 3*time.Second, cfg.Timeout)
	require.Equal(t, map[string]string{"X-Client": "cli"}, cfg.Headers)
	require.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	require.Equal(t, "gqlenv", cfg.Telemetry.Service)
	require.Equal(t, 256, cfg.DocumentCacheSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateReportsFields(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = ""
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint is required")
	require.Contains(t, err.Error(), "log.level must be one of")

	cfg = Default()
	cfg.Endpoint = "not a url"
	require.ErrorContains(t, cfg.Validate(), "endpoint must be a URL")
}
