package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherStartLoadsInitialConfig(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Pools, 2)
}

func TestWatcherStartFailsOnInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "routes: []\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcherReloadOnChange(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	var reloads atomic.Int32
	var gotAddr atomic.Value
	w, err := NewWatcher(path, func(cfg *Config) {
		gotAddr.Store(cfg.Listeners.HTTPAddr)
		reloads.Add(1)
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	updated := strings.Replace(validConfigYAML, `httpAddr: ":9080"`, `httpAddr: ":9081"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, ":9081", gotAddr.Load())
}

func TestWatcherKeepsOldConfigOnInvalidReload(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	var errs atomic.Int32
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(error) { errs.Add(1) }),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("routes: []\n"), 0o600))

	require.Eventually(t, func() bool {
		return errs.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Routes, 4)
}

func TestWatcherForceReload(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(*Config) { reloads.Add(1) })
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, w.ForceReload())
	assert.EqualValues(t, 1, reloads.Load())

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))
	assert.Error(t, w.ForceReload())
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpanel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfigYAML), 0o600))

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(*Config) { reloads.Add(1) },
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 0, reloads.Load())
}

func TestWatcherStopIdempotent(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
