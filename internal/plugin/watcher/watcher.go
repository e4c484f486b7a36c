// Package watcher reloads plugins when the plugin root changes on disk and
// rescans it on a schedule.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
)

// DefaultDebounce is the quiet period before a burst of changes triggers a reload
const DefaultDebounce = 500 * time.Millisecond

// Target is the part of the plugin manager the watcher drives
type Target interface {
	Reload(ctx context.Context) error
	Discover(ctx context.Context) error
	ActivateAll(ctx context.Context) error
}

// Config holds watcher configuration
type Config struct {
	Root           string
	Watch          bool
	Debounce       time.Duration
	RescanSchedule string
	AutoActivate   bool
}

// Watcher turns filesystem events into one debounced Reload and runs an
// optional cron rescan that picks up new plugin directories
type Watcher struct {
	cfg       Config
	target    Target
	logger    *zap.Logger
	debouncer *utils.Debouncer
	fs        *fsnotify.Watcher
	cron      *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// reloadMutex keeps reloads and rescans from overlapping
	reloadMutex sync.Mutex
	mutex       sync.Mutex
	started     bool
	reloads     int
	rescans     int
}

// New creates a watcher for target
func New(cfg Config, target Target, logger *zap.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		cfg:    cfg,
		target: target,
		logger: logger.Named("plugin_watcher"),
	}
	w.debouncer = utils.NewDebouncer(cfg.Debounce, w.reload)
	return w
}

// Start begins watching and scheduling. It returns once both are set up.
func (w *Watcher) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.started {
		return errors.New("watcher already started")
	}
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if w.cfg.RescanSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(w.cfg.RescanSchedule, func() { w.Rescan(w.ctx) }); err != nil {
			w.cancel()
			return fmt.Errorf("invalid rescan schedule %q: %w", w.cfg.RescanSchedule, err)
		}
		w.cron = c
	}

	if w.cfg.Watch {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.cancel()
			return fmt.Errorf("failed to create filesystem watcher: %w", err)
		}
		w.fs = fsw
		if err := w.addTree(w.cfg.Root); err != nil {
			_ = fsw.Close()
			w.cancel()
			return err
		}
		w.done = make(chan struct{})
		go w.loop()
	}

	if w.cron != nil {
		w.cron.Start()
	}
	w.started = true

	w.logger.Info("plugin watcher started",
		zap.String("root", w.cfg.Root),
		zap.Bool("watch", w.cfg.Watch),
		zap.Duration("debounce", w.cfg.Debounce),
		zap.String("rescan_schedule", w.cfg.RescanSchedule),
	)
	return nil
}

// addTree watches root and its direct plugin directories. fsnotify is not
// recursive; deeper edits surface through the directory that holds them.
func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("plugin root does not exist; not watching", zap.String("root", root))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat plugin root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugin root %s is not a directory", root)
	}

	if err := w.fs.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read plugin root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			w.watchDir(filepath.Join(root, e.Name()))
		}
	}
	return nil
}

func (w *Watcher) watchDir(dir string) {
	if err := w.fs.Add(dir); err != nil {
		w.logger.Warn("failed to watch plugin directory", zap.String("dir", dir), zap.Error(err))
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if hidden(filepath.Base(event.Name)) || event.Op == fsnotify.Chmod {
		return
	}

	if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == filepath.Clean(w.cfg.Root) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchDir(event.Name)
		}
	}

	w.logger.Debug("plugin file changed",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()),
	)
	w.debouncer.Trigger()
}

func (w *Watcher) reload() {
	w.reloadMutex.Lock()
	defer w.reloadMutex.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := w.target.Reload(w.ctx); err != nil {
		w.logger.Error("plugin reload failed", zap.Error(err))
	} else {
		w.logger.Info("plugins reloaded", zap.Duration("duration", time.Since(start)))
	}

	w.mutex.Lock()
	w.reloads++
	w.mutex.Unlock()
}

// Rescan discovers plugin directories added since the last scan and, with
// AutoActivate, activates them
func (w *Watcher) Rescan(ctx context.Context) {
	w.reloadMutex.Lock()
	defer w.reloadMutex.Unlock()

	if err := w.target.Discover(ctx); err != nil {
		w.logger.Error("plugin rescan failed", zap.Error(err))
		return
	}
	if w.cfg.AutoActivate {
		if err := w.target.ActivateAll(ctx); err != nil {
			w.logger.Error("plugin activation after rescan failed", zap.Error(err))
		}
	}

	w.mutex.Lock()
	w.rescans++
	w.mutex.Unlock()
}

// Stop cancels a pending reload, stops the schedule and waits for the
// event loop and any running reload to finish or ctx to expire
func (w *Watcher) Stop(ctx context.Context) error {
	w.mutex.Lock()
	if !w.started {
		w.mutex.Unlock()
		return nil
	}
	w.started = false
	w.mutex.Unlock()

	w.debouncer.Stop()
	w.cancel()

	var errs []error
	idle := make(chan struct{})
	go func() {
		w.reloadMutex.Lock()
		defer w.reloadMutex.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if w.cron != nil {
		select {
		case <-w.cron.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if w.fs != nil {
		errs = append(errs, w.fs.Close())
		select {
		case <-w.done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	w.logger.Info("plugin watcher stopped")
	return errors.Join(errs...)
}

// Stats reports how many reloads and rescans have completed
func (w *Watcher) Stats() (reloads, rescans int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.reloads, w.rescans
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
