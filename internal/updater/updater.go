// Package updater watches the desktop client's appcast feed. When a new
// client version is published, the fingerprint file's app-version and
// build-number are rewritten in place and a harvester process is spawned to
// re-extract the full fingerprint from a freshly downloaded client.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/fingerprint"
	"github.com/codexgate/codexgate/internal/transport"
	"github.com/codexgate/codexgate/internal/util"
)

const (
	stateFile      = "update-state.json"
	appcastTimeout = 30 * time.Second
	jitterFraction = 0.1
)

// State is the persisted update bookkeeping.
type State struct {
	LastCheck       time.Time `json:"last_check"`
	LatestVersion   string    `json:"latest_version"`
	LatestBuild     string    `json:"latest_build"`
	DownloadURL     string    `json:"download_url"`
	UpdateAvailable bool      `json:"update_available"`
	CurrentVersion  string    `json:"current_version"`
	CurrentBuild    string    `json:"current_build"`
}

// appcast items are regex-parsed; the feed is small and stable enough that a
// full XML parse buys nothing.
var (
	itemRe         = regexp.MustCompile(`(?s)<item>(.*?)</item>`)
	shortVersionRe = regexp.MustCompile(`sparkle:shortVersionString="([^"]+)"`)
	versionRe      = regexp.MustCompile(`sparkle:version="([^"]+)"`)
	enclosureURLRe = regexp.MustCompile(`<enclosure[^>]*\burl="([^"]+)"`)
)

// Watcher polls the appcast on a jittered interval.
type Watcher struct {
	cfg          *config.Config
	transport    transport.Transport
	headers      *fingerprint.Builder
	fingerprints *config.FingerprintStore
	reload       func()

	statePath string

	mu         sync.Mutex
	state      State
	harvesting bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates an update watcher. reload, when non-nil, runs after a
// successful harvest so dependents pick up the fresh fingerprint.
func NewWatcher(cfg *config.Config, tr transport.Transport, headers *fingerprint.Builder, fingerprints *config.FingerprintStore, reload func()) *Watcher {
	w := &Watcher{
		cfg:          cfg,
		transport:    tr,
		headers:      headers,
		fingerprints: fingerprints,
		reload:       reload,
		statePath:    filepath.Join(cfg.DataDir, stateFile),
		stop:         make(chan struct{}),
	}
	w.loadState()
	return w
}

// Start checks immediately and then on every jittered interval.
func (w *Watcher) Start() {
	if w.cfg.Update.AppcastURL == "" {
		log.Debug("no appcast url configured; update watcher idle")
		return
	}
	go w.loop()
}

// Stop halts the polling loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Check performs one appcast fetch and reacts to version changes.
func (w *Watcher) Check(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, appcastTimeout)
	defer cancel()

	resp, err := w.transport.Get(reqCtx, w.cfg.Update.AppcastURL, w.headers.Anonymous())
	if err != nil {
		return err
	}
	if resp.Status != 200 {
		return &fetchError{status: resp.Status}
	}

	version, build, downloadURL, ok := parseAppcast(resp.Body)
	if !ok {
		return errNoItem
	}

	fp := w.fingerprints.Get()
	changed := version != fp.AppVersion || build != fp.BuildNumber

	w.mu.Lock()
	w.state.LastCheck = time.Now()
	w.state.LatestVersion = version
	w.state.LatestBuild = build
	w.state.DownloadURL = downloadURL
	w.state.UpdateAvailable = changed
	w.state.CurrentVersion = fp.AppVersion
	w.state.CurrentBuild = fp.BuildNumber
	w.mu.Unlock()
	w.persistState()

	if !changed {
		return nil
	}

	log.Infof("client update published: %s (%s), current %s (%s)", version, build, fp.AppVersion, fp.BuildNumber)
	if err = w.fingerprints.SetVersion(version, build, func(path string, data []byte) error {
		return util.AtomicWriteFile(path, data, 0o644)
	}); err != nil {
		log.Errorf("cannot rewrite fingerprint file: %v", err)
		return err
	}
	w.spawnHarvester(downloadURL)
	return nil
}

// State returns a snapshot of the update bookkeeping.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) loop() {
	if err := w.Check(context.Background()); err != nil {
		log.Warnf("appcast check failed: %v", err)
	}
	for {
		interval := time.Duration(w.cfg.Update.CheckIntervalMinutes) * time.Minute
		select {
		case <-w.stop:
			return
		case <-time.After(util.Jitter(interval, jitterFraction)):
			if err := w.Check(context.Background()); err != nil {
				log.Warnf("appcast check failed: %v", err)
			}
		}
	}
}

// spawnHarvester runs the configured harvester command once; concurrent
// triggers are ignored while one is in flight.
func (w *Watcher) spawnHarvester(downloadURL string) {
	command := w.cfg.Update.HarvesterCommand
	if command == "" {
		log.Debug("no harvester configured; fingerprint values not re-extracted")
		return
	}

	w.mu.Lock()
	if w.harvesting {
		w.mu.Unlock()
		log.Debug("harvester already running; trigger ignored")
		return
	}
	w.harvesting = true
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.harvesting = false
			w.mu.Unlock()
		}()

		parts := strings.Fields(command)
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Env = append(os.Environ(), "CLIENT_DOWNLOAD_URL="+downloadURL)
		out, err := cmd.CombinedOutput()
		if err != nil {
			log.Errorf("harvester failed: %v: %s", err, strings.TrimSpace(string(out)))
			return
		}
		log.Info("harvester completed; reloading fingerprint")
		if err = w.fingerprints.Reload(); err != nil {
			log.Errorf("fingerprint reload after harvest failed: %v", err)
			return
		}
		if w.reload != nil {
			w.reload()
		}
	}()
}

func (w *Watcher) loadState() {
	data, err := os.ReadFile(w.statePath)
	if err != nil {
		return
	}
	var st State
	if err = json.Unmarshal(data, &st); err != nil {
		log.Warnf("update state at %s is unreadable: %v", w.statePath, err)
		return
	}
	w.state = st
}

func (w *Watcher) persistState() {
	w.mu.Lock()
	data, err := json.MarshalIndent(&w.state, "", "  ")
	w.mu.Unlock()
	if err != nil {
		return
	}
	if err = util.AtomicWriteFile(w.statePath, data, 0o644); err != nil {
		log.Warnf("cannot persist update state: %v", err)
	}
}

// parseAppcast extracts shortVersionString, version, and the enclosure URL
// from the first item of the feed.
func parseAppcast(body string) (version, build, downloadURL string, ok bool) {
	item := itemRe.FindStringSubmatch(body)
	if item == nil {
		return "", "", "", false
	}
	if m := shortVersionRe.FindStringSubmatch(item[1]); m != nil {
		version = m[1]
	}
	if m := versionRe.FindStringSubmatch(item[1]); m != nil {
		build = m[1]
	}
	if m := enclosureURLRe.FindStringSubmatch(item[1]); m != nil {
		downloadURL = m[1]
	}
	return version, build, downloadURL, version != "" || build != ""
}

type fetchError struct{ status int }

func (e *fetchError) Error() string {
	return fmt.Sprintf("appcast fetch returned status %d", e.status)
}

var errNoItem = errors.New("appcast feed carries no item")
