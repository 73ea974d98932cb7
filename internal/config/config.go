// Package config provides configuration management for the Codex gateway.
// It handles loading and parsing YAML configuration files and provides
// structured access to server, upstream API, auth, TLS, session, and model
// settings. The harvested client fingerprint lives in its own YAML file and
// is managed by FingerprintStore.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codexgate/codexgate/internal/util"
)

// Rotation strategies for account selection.
const (
	RotationLeastUsed  = "least_used"
	RotationRoundRobin = "round_robin"
)

// Transport selection values.
const (
	TransportAuto = "auto"
	TransportCLI  = "cli"
	TransportFFI  = "ffi"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	TLS     TLSConfig     `yaml:"tls"`
	Session SessionConfig `yaml:"session"`
	Model   ModelConfig   `yaml:"model"`
	Update  UpdateConfig  `yaml:"update"`

	// DataDir is the directory where accounts, cookies, and update state
	// are persisted.
	DataDir string `yaml:"data-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile routes logs into rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`
}

// ServerConfig holds the local HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ProxyAPIKey, when set, must be presented by clients of the
	// compatibility endpoints.
	ProxyAPIKey string `yaml:"proxy-api-key"`
}

// APIConfig holds upstream Responses backend settings.
type APIConfig struct {
	BaseURL        string `yaml:"base-url"`
	TimeoutSeconds int    `yaml:"timeout-seconds"`
}

// AuthConfig holds account rotation and OAuth settings.
type AuthConfig struct {
	RotationStrategy        string `yaml:"rotation-strategy"`
	RefreshMarginSeconds    int    `yaml:"refresh-margin-seconds"`
	RateLimitBackoffSeconds int    `yaml:"rate-limit-backoff-seconds"`
	OAuthClientID           string `yaml:"oauth-client-id"`
	OAuthAuthEndpoint       string `yaml:"oauth-auth-endpoint"`
	OAuthTokenEndpoint      string `yaml:"oauth-token-endpoint"`
	CallbackPort            int    `yaml:"callback-port"`
}

// TLSConfig selects and tunes the impersonating transport.
type TLSConfig struct {
	// Transport is one of auto, cli, ffi.
	Transport string `yaml:"transport"`

	// ImpersonateProfile names the Chromium profile to mimic.
	ImpersonateProfile string `yaml:"impersonate-profile"`

	// CLIBinary is the curl-impersonate executable used by the cli transport.
	CLIBinary string `yaml:"cli-binary"`

	// ProxyURL is an optional outbound proxy. HTTP_PROXY/HTTPS_PROXY are
	// honored when this is empty.
	ProxyURL string `yaml:"proxy-url"`
}

// SessionConfig tunes the multi-turn session cache.
type SessionConfig struct {
	TTLMinutes             int `yaml:"ttl-minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup-interval-minutes"`
	MaxEntries             int `yaml:"max-entries"`
}

// ModelConfig holds model defaults.
type ModelConfig struct {
	Default                string `yaml:"default"`
	DefaultReasoningEffort string `yaml:"default-reasoning-effort"`

	// PromptPath locates the harvested desktop context prompt. An embedded
	// copy is used when the file is absent.
	PromptPath string `yaml:"prompt-path"`
}

// UpdateConfig tunes the appcast update watcher.
type UpdateConfig struct {
	AppcastURL           string `yaml:"appcast-url"`
	CheckIntervalMinutes int    `yaml:"check-interval-minutes"`

	// HarvesterCommand re-extracts fingerprint values from a freshly
	// downloaded client. Empty disables harvesting.
	HarvesterCommand string `yaml:"harvester-command"`

	// ClientConfigPath is the fingerprint YAML rewritten when a new client
	// version is published.
	ClientConfigPath string `yaml:"client-config-path"`
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, and applies defaults.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8017
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://chatgpt.com/backend-api"
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 300
	}
	if c.Auth.RotationStrategy == "" {
		c.Auth.RotationStrategy = RotationLeastUsed
	}
	if c.Auth.RefreshMarginSeconds <= 0 {
		c.Auth.RefreshMarginSeconds = 300
	}
	if c.Auth.RateLimitBackoffSeconds <= 0 {
		c.Auth.RateLimitBackoffSeconds = 60
	}
	if c.Auth.OAuthClientID == "" {
		c.Auth.OAuthClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	}
	if c.Auth.OAuthAuthEndpoint == "" {
		c.Auth.OAuthAuthEndpoint = "https://auth.openai.com/oauth/authorize"
	}
	if c.Auth.OAuthTokenEndpoint == "" {
		c.Auth.OAuthTokenEndpoint = "https://auth.openai.com/oauth/token"
	}
	if c.Auth.CallbackPort == 0 {
		c.Auth.CallbackPort = 1455
	}
	if c.TLS.Transport == "" {
		c.TLS.Transport = TransportAuto
	}
	if c.TLS.ImpersonateProfile == "" {
		c.TLS.ImpersonateProfile = "chrome136"
	}
	if c.TLS.CLIBinary == "" {
		c.TLS.CLIBinary = "curl_chrome136"
	}
	if c.Session.TTLMinutes <= 0 {
		c.Session.TTLMinutes = 60
	}
	if c.Session.CleanupIntervalMinutes <= 0 {
		c.Session.CleanupIntervalMinutes = 5
	}
	if c.Session.MaxEntries <= 0 {
		c.Session.MaxEntries = 1000
	}
	if c.Model.Default == "" {
		c.Model.Default = "gpt-5-codex"
	}
	if c.Model.DefaultReasoningEffort == "" {
		c.Model.DefaultReasoningEffort = "medium"
	}
	if c.Model.PromptPath == "" {
		c.Model.PromptPath = "prompts/codex_desktop.md"
	}
	if c.Update.CheckIntervalMinutes <= 0 {
		c.Update.CheckIntervalMinutes = 30
	}
	if c.Update.ClientConfigPath == "" {
		c.Update.ClientConfigPath = "client_config.yaml"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	c.Auth.RotationStrategy = strings.ToLower(c.Auth.RotationStrategy)
	if !util.InArray([]string{RotationLeastUsed, RotationRoundRobin}, c.Auth.RotationStrategy) {
		c.Auth.RotationStrategy = RotationLeastUsed
	}
	c.TLS.Transport = strings.ToLower(c.TLS.Transport)
}
