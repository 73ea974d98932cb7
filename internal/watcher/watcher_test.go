package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexgate/codexgate/internal/config"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "debug: false\n")

	var reloads atomic.Int32
	var lastDebug atomic.Bool
	w, err := NewWatcher(path, func(cfg *config.Config) {
		lastDebug.Store(cfg.Debug)
		reloads.Add(1)
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeConfigFile(t, path, "debug: true\n")

	require.Eventually(t, func() bool { return reloads.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.True(t, lastDebug.Load())
}

func TestWatcherIgnoresUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "debug: false\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(*config.Config) { reloads.Add(1) })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Rewrite with identical bytes; the hash gate suppresses the callback.
	writeConfigFile(t, path, "debug: false\n")
	time.Sleep(debounceDelay + 500*time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}

func TestWatcherKeepsConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "debug: false\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(*config.Config) { reloads.Add(1) })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeConfigFile(t, path, "server: [broken\n")
	time.Sleep(debounceDelay + 500*time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())

	// A subsequent valid write still lands.
	writeConfigFile(t, path, "debug: true\n")
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "debug: false\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(*config.Config) { reloads.Add(1) })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeConfigFile(t, filepath.Join(dir, "other.yaml"), "irrelevant: true\n")
	time.Sleep(debounceDelay + 500*time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
