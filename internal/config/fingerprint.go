package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fingerprint holds the values harvested from a desktop client install that
// every authenticated upstream call must reproduce. It is immutable at
// runtime except through Reload or SetVersion.
type Fingerprint struct {
	// UserAgentTemplate contains {version}, {platform}, and {arch}
	// placeholders filled by the header builder.
	UserAgentTemplate string `yaml:"user-agent-template"`

	// ChromiumVersion is the full Chromium version of the client build.
	ChromiumVersion string `yaml:"chromium-version"`

	// AppVersion and BuildNumber identify the harvested client release.
	AppVersion  string `yaml:"app-version"`
	BuildNumber string `yaml:"build-number"`

	// HeaderOrder is the exact emission order of request headers.
	HeaderOrder []string `yaml:"header-order"`

	// DefaultHeaders are static headers attached to every call.
	DefaultHeaders map[string]string `yaml:"default-headers"`
}

// FingerprintStore loads the client fingerprint YAML and serves consistent
// snapshots to the header builder. The update watcher mutates app-version and
// build-number in place when a new client release is published.
type FingerprintStore struct {
	mu   sync.RWMutex
	path string
	fp   *Fingerprint
}

// NewFingerprintStore reads the fingerprint YAML at path. A missing file
// yields built-in defaults so the gateway stays operational before the first
// harvest.
func NewFingerprintStore(path string) (*FingerprintStore, error) {
	s := &FingerprintStore{path: path}
	if err := s.Reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.fp = defaultFingerprint()
	}
	return s, nil
}

// Reload re-reads the fingerprint YAML from disk.
func (s *FingerprintStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var fp Fingerprint
	if err = yaml.Unmarshal(data, &fp); err != nil {
		return fmt.Errorf("failed to parse fingerprint file: %w", err)
	}
	if fp.UserAgentTemplate == "" || len(fp.HeaderOrder) == 0 {
		base := defaultFingerprint()
		if fp.UserAgentTemplate == "" {
			fp.UserAgentTemplate = base.UserAgentTemplate
		}
		if len(fp.HeaderOrder) == 0 {
			fp.HeaderOrder = base.HeaderOrder
		}
		if len(fp.DefaultHeaders) == 0 {
			fp.DefaultHeaders = base.DefaultHeaders
		}
		if fp.ChromiumVersion == "" {
			fp.ChromiumVersion = base.ChromiumVersion
		}
	}
	s.mu.Lock()
	s.fp = &fp
	s.mu.Unlock()
	return nil
}

// Get returns the current fingerprint snapshot.
func (s *FingerprintStore) Get() *Fingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fp
}

// Path returns the YAML path backing this store.
func (s *FingerprintStore) Path() string { return s.path }

// SetVersion rewrites app-version and build-number in the YAML file
// (load, mutate, atomic write is handled by the caller supplying writeFile)
// and updates the in-memory snapshot.
func (s *FingerprintStore) SetVersion(version, build string, writeFile func(path string, data []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := *s.fp
	updated.AppVersion = version
	updated.BuildNumber = build

	data, err := yaml.Marshal(&updated)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	if err = writeFile(s.path, data); err != nil {
		return err
	}
	s.fp = &updated
	return nil
}

func defaultFingerprint() *Fingerprint {
	return &Fingerprint{
		UserAgentTemplate: "Mozilla/5.0 ({platform}; {arch}) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/{version} Safari/537.36",
		ChromiumVersion:   "136.0.7103.92",
		HeaderOrder: []string{
			"Host",
			"Connection",
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"sec-ch-ua-platform",
			"Authorization",
			"ChatGPT-Account-Id",
			"originator",
			"User-Agent",
			"Content-Type",
			"Accept",
			"Sec-Fetch-Site",
			"Sec-Fetch-Mode",
			"Sec-Fetch-Dest",
			"Accept-Encoding",
			"Accept-Language",
			"Cookie",
		},
		DefaultHeaders: map[string]string{
			"Accept-Encoding": "gzip, deflate, br, zstd",
			"Accept-Language": "en-US,en;q=0.9",
			"Sec-Fetch-Site":  "same-origin",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Dest":  "empty",
		},
	}
}
