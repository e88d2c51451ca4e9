package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /tmp/gatehouse-test.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "gatehouse", cfg.Service.Name)
	require.Equal(t, "INFO", cfg.Service.LogLevel)
	require.Equal(t, "127.0.0.1:8470", cfg.Gateway.Listen)
	require.Equal(t, 10*time.Second, cfg.Delivery.Timeout)
	require.Equal(t, "X-Gatehouse-Signature", cfg.Delivery.SignatureHeader)
	require.Equal(t, 256, cfg.Events.RingCapacity)
	require.Empty(t, cfg.Admin.Token)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
service:
  name: gatehouse-staging
  log_level: DEBUG
store:
  path: /var/lib/gatehouse/staging.db
gateway:
  listen: 0.0.0.0:9000
delivery:
  timeout: 5s
  signature_header: X-Staging-Signature
admin:
  token: hunter2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "gatehouse-staging", cfg.Service.Name)
	require.Equal(t, "DEBUG", cfg.Service.LogLevel)
	require.Equal(t, "0.0.0.0:9000", cfg.Gateway.Listen)
	require.Equal(t, 5*time.Second, cfg.Delivery.Timeout)
	require.Equal(t, "X-Staging-Signature", cfg.Delivery.SignatureHeader)
	require.Equal(t, "hunter2", cfg.Admin.Token)
}

func TestLoadRejectsMissingStorePath(t *testing.T) {
	path := writeConfig(t, `
service:
  name: broken
store:
  path: ""
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "store.path")
}

func TestLoadRejectsTinyDeliveryTimeout(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /tmp/gatehouse-test.db
delivery:
  timeout: 100ms
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "store: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDiscoverConfigPathEnv(t *testing.T) {
	path := writeConfig(t, "store:\n  path: /tmp/x.db\n")
	t.Setenv("GATEHOUSE_CONFIG", path)

	got, err := DiscoverConfigPath()
	require.NoError(t, err)
	require.Equal(t, path, got)
}

func TestDiscoverConfigPathEnvMissingFile(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := DiscoverConfigPath()
	require.Error(t, err)
}
