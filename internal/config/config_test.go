package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8017, cfg.Server.Port)
	assert.Equal(t, "https://chatgpt.com/backend-api", cfg.API.BaseURL)
	assert.Equal(t, 300, cfg.API.TimeoutSeconds)
	assert.Equal(t, RotationLeastUsed, cfg.Auth.RotationStrategy)
	assert.Equal(t, 300, cfg.Auth.RefreshMarginSeconds)
	assert.Equal(t, 60, cfg.Auth.RateLimitBackoffSeconds)
	assert.Equal(t, 1455, cfg.Auth.CallbackPort)
	assert.Equal(t, TransportAuto, cfg.TLS.Transport)
	assert.Equal(t, 60, cfg.Session.TTLMinutes)
	assert.Equal(t, 1000, cfg.Session.MaxEntries)
	assert.Equal(t, "gpt-5-codex", cfg.Model.Default)
	assert.Equal(t, "medium", cfg.Model.DefaultReasoningEffort)
	assert.Equal(t, "prompts/codex_desktop.md", cfg.Model.PromptPath)
	assert.Equal(t, "data", cfg.DataDir)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 9000
  proxy-api-key: "secret"
auth:
  rotation-strategy: "Round_Robin"
tls:
  transport: "FFI"
  proxy-url: "http://127.0.0.1:8080"
model:
  default: "gpt-5"
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.ProxyAPIKey)
	assert.Equal(t, RotationRoundRobin, cfg.Auth.RotationStrategy, "strategy is lowercased")
	assert.Equal(t, TransportFFI, cfg.TLS.Transport)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.TLS.ProxyURL)
	assert.Equal(t, "gpt-5", cfg.Model.Default)
}

func TestLoadConfigRejectsUnknownRotationStrategy(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "auth:\n  rotation-strategy: \"fastest\"\n"))
	require.NoError(t, err)
	assert.Equal(t, RotationLeastUsed, cfg.Auth.RotationStrategy)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)
}

func TestFingerprintStoreDefaultsWhenMissing(t *testing.T) {
	store, err := NewFingerprintStore(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	fp := store.Get()
	assert.NotEmpty(t, fp.UserAgentTemplate)
	assert.NotEmpty(t, fp.ChromiumVersion)
	assert.NotEmpty(t, fp.HeaderOrder)
	assert.Contains(t, fp.DefaultHeaders, "Accept-Language")
}

func TestFingerprintStoreLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_config.yaml")
	content := `
user-agent-template: "UA {version}"
chromium-version: "140.0.1.2"
app-version: "1.2026.1"
build-number: "20260101"
header-order:
  - Host
  - User-Agent
default-headers:
  Accept-Language: "en-GB,en;q=0.8"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := NewFingerprintStore(path)
	require.NoError(t, err)
	fp := store.Get()
	assert.Equal(t, "UA {version}", fp.UserAgentTemplate)
	assert.Equal(t, "140.0.1.2", fp.ChromiumVersion)
	assert.Equal(t, "1.2026.1", fp.AppVersion)
	assert.Equal(t, []string{"Host", "User-Agent"}, fp.HeaderOrder)
}

func TestFingerprintStoreSetVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_config.yaml")
	store, err := NewFingerprintStore(path)
	require.NoError(t, err)

	err = store.SetVersion("2.0.0", "20000", func(p string, data []byte) error {
		return os.WriteFile(p, data, 0o600)
	})
	require.NoError(t, err)

	fp := store.Get()
	assert.Equal(t, "2.0.0", fp.AppVersion)
	assert.Equal(t, "20000", fp.BuildNumber)

	// The write landed on disk and survives a reload.
	require.NoError(t, store.Reload())
	fp = store.Get()
	assert.Equal(t, "2.0.0", fp.AppVersion)
}
