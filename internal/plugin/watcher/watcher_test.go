package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTarget struct {
	mu          sync.Mutex
	reloads     int
	discovers   int
	activations int
}

func (f *fakeTarget) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeTarget) Discover(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers++
	return nil
}

func (f *fakeTarget) ActivateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations++
	return nil
}

func (f *fakeTarget) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads, f.discovers, f.activations
}

func startWatcher(t *testing.T, cfg Config, target Target) *Watcher {
	t.Helper()
	w := New(cfg, target, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestWatcher_BurstTriggersOneReload(t *testing.T) {
	root := t.TempDir()
	plugin := filepath.Join(root, "greeter")
	require.NoError(t, os.MkdirAll(plugin, 0o755))

	target := &fakeTarget{}
	startWatcher(t, Config{Root: root, Watch: true, Debounce: 100 * time.Millisecond}, target)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(plugin, "index.lua"), []byte("return {}"), 0o644))
	}

	require.Eventually(t, func() bool {
		reloads, _, _ := target.counts()
		return reloads == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	reloads, _, _ := target.counts()
	assert.Equal(t, 1, reloads)
}

func TestWatcher_WatchesNewPluginDirs(t *testing.T) {
	root := t.TempDir()
	target := &fakeTarget{}
	w := startWatcher(t, Config{Root: root, Watch: true, Debounce: 50 * time.Millisecond}, target)

	fresh := filepath.Join(root, "fresh")
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.Eventually(t, func() bool {
		reloads, _ := w.Stats()
		return reloads == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(fresh, "manifest.json"), []byte("{}"), 0o644))
	require.Eventually(t, func() bool {
		reloads, _ := w.Stats()
		return reloads == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresHiddenFiles(t *testing.T) {
	root := t.TempDir()
	target := &fakeTarget{}
	startWatcher(t, Config{Root: root, Watch: true, Debounce: 20 * time.Millisecond}, target)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".swp"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)

	reloads, _, _ := target.counts()
	assert.Zero(t, reloads)
}

func TestWatcher_StopCancelsPendingReload(t *testing.T) {
	root := t.TempDir()
	target := &fakeTarget{}
	w := New(Config{Root: root, Watch: true, Debounce: 200 * time.Millisecond}, target, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.Eventually(t, w.debouncer.Pending, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop(context.Background()))
	time.Sleep(300 * time.Millisecond)

	reloads, _, _ := target.counts()
	assert.Zero(t, reloads)
	assert.NoError(t, w.Stop(context.Background()), "second stop is a no-op")
}

func TestWatcher_MissingRootIsNotAnError(t *testing.T) {
	target := &fakeTarget{}
	startWatcher(t, Config{Root: filepath.Join(t.TempDir(), "absent"), Watch: true}, target)
}

func TestWatcher_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	w := New(Config{Root: root, Watch: true}, &fakeTarget{}, zaptest.NewLogger(t))
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_InvalidSchedule(t *testing.T) {
	w := New(Config{Root: t.TempDir(), RescanSchedule: "every so often"}, &fakeTarget{}, zaptest.NewLogger(t))
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_StartTwice(t *testing.T) {
	w := startWatcher(t, Config{Root: t.TempDir()}, &fakeTarget{})
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_Rescan(t *testing.T) {
	target := &fakeTarget{}
	w := New(Config{Root: t.TempDir(), AutoActivate: true}, target, zaptest.NewLogger(t))

	w.Rescan(context.Background())

	_, discovers, activations := target.counts()
	assert.Equal(t, 1, discovers)
	assert.Equal(t, 1, activations)
	_, rescans := w.Stats()
	assert.Equal(t, 1, rescans)
}

func TestWatcher_ScheduledRescan(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron tick")
	}
	target := &fakeTarget{}
	startWatcher(t, Config{Root: t.TempDir(), RescanSchedule: "@every 1s"}, target)

	require.Eventually(t, func() bool {
		_, discovers, _ := target.counts()
		return discovers >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

type blockingTarget struct {
	fakeTarget
	started chan struct{}
	release chan struct{}
}

func (b *blockingTarget) Reload(ctx context.Context) error {
	close(b.started)
	<-b.release
	return b.fakeTarget.Reload(ctx)
}

func TestWatcher_StopWaitsForRunningReload(t *testing.T) {
	target := &blockingTarget{started: make(chan struct{}), release: make(chan struct{})}
	w := New(Config{Root: t.TempDir(), Debounce: 10 * time.Millisecond}, target, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))

	w.debouncer.Trigger()
	select {
	case <-target.started:
	case <-time.After(2 * time.Second):
		t.Fatal("reload did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a reload was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(target.release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the reload finished")
	}
	reloads, _ := w.Stats()
	assert.Equal(t, 1, reloads)
}

func TestWatcher_StopGivesUpOnExpiredContext(t *testing.T) {
	target := &blockingTarget{started: make(chan struct{}), release: make(chan struct{})}
	defer close(target.release)
	w := New(Config{Root: t.TempDir(), Debounce: 10 * time.Millisecond}, target, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))

	w.debouncer.Trigger()
	<-target.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(ctx), context.DeadlineExceeded)
}
