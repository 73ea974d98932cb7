// Package watcher hot-reloads the gateway configuration. It watches the YAML
// file with fsnotify, debounces editor write bursts, and only fires the
// reload callback when the file content hash actually changed.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/codexgate/codexgate/internal/config"
)

const debounceDelay = 500 * time.Millisecond

// Watcher monitors the configuration file for changes.
type Watcher struct {
	configPath string
	reload     func(*config.Config)
	watcher    *fsnotify.Watcher

	mu       sync.Mutex
	lastHash string
	timer    *time.Timer
}

// NewWatcher creates a watcher that calls reload with each successfully
// re-parsed configuration.
func NewWatcher(configPath string, reload func(*config.Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		configPath: configPath,
		reload:     reload,
		watcher:    fsw,
		lastHash:   hashFile(configPath),
	}
	return w, nil
}

// Start watches the config file's directory; editors often replace the file
// wholesale, which drops a watch on the file itself.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	log.Debugf("watching config directory: %s", dir)
	go w.processEvents(ctx)
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reloadIfChanged)
}

func (w *Watcher) reloadIfChanged() {
	hash := hashFile(w.configPath)
	w.mu.Lock()
	unchanged := hash != "" && hash == w.lastHash
	if !unchanged {
		w.lastHash = hash
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	log.Infof("configuration reloaded from %s", w.configPath)
	w.reload(cfg)
}

func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
