// Package manager owns plugin lifecycle and the extension registry.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/loader"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/manifest"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pcontext"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/pluginid"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/registry"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/scanner"
	apperrors "github.com/jrjohn/arcana-plugin-runtime/pkg/errors"
)

// DefaultLoadConcurrency bounds concurrent candidate loading
const DefaultLoadConcurrency = 4

// Config holds plugin manager configuration
type Config struct {
	Root            string
	ManifestFile    string
	LoadConcurrency int
	AutoActivate    bool
}

// StatusEvent describes one lifecycle transition
type StatusEvent struct {
	PluginID string     `json:"pluginId"`
	From     api.Status `json:"from"`
	To       api.Status `json:"to"`
	At       time.Time  `json:"at"`
}

// Observer is notified of lifecycle transitions and recorded errors.
// Callbacks run synchronously on the goroutine performing the transition.
type Observer interface {
	OnStatusChange(ctx context.Context, event StatusEvent)
	OnError(ctx context.Context, err api.PluginError)
}

// Provisioner creates the storage a plugin's registered extensions need.
// It runs while the plugin's contributions are registered but before the
// plugin is marked active; a failure rolls the activation back.
type Provisioner interface {
	SyncPlugin(ctx context.Context, pluginID string) error
}

// Option configures a Manager
type Option func(*Manager)

// WithRegistry makes the manager own reg instead of a fresh registry
func WithRegistry(reg *registry.Registry) Option {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithProvisioner makes activation provision storage through p
func WithProvisioner(p Provisioner) Option {
	return func(m *Manager) {
		m.provisioner = p
	}
}

// WithObserver subscribes o from construction
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

// Manager drives plugins through discovered → loaded → active ⇄ inactive → unloaded
type Manager struct {
	cfg       Config
	manifests *manifest.Loader
	resolver  *resolver
	registry  *registry.Registry
	host      pcontext.Host
	logger    *zap.Logger

	provisioner Provisioner

	// mutex guards plugins and errors for readers
	mutex   sync.RWMutex
	plugins map[string]*record
	errors  []api.PluginError

	// opMutex serializes transitions and every registry mutation
	opMutex sync.Mutex

	obsMutex  sync.RWMutex
	observers []Observer
}

// New creates a plugin manager
func New(cfg Config, ml loader.ModuleLoader, host pcontext.Host, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = DefaultLoadConcurrency
	}
	if host.Logger == nil {
		host.Logger = logger
	}

	m := &Manager{
		cfg:       cfg,
		manifests: manifest.NewLoader(cfg.ManifestFile, logger),
		host:      host,
		logger:    logger.Named("plugin_manager"),
		plugins:   make(map[string]*record),
	}
	m.resolver = &resolver{loader: ml, host: host, logger: m.logger}

	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	return m
}

// Subscribe registers an observer for lifecycle events
func (m *Manager) Subscribe(o Observer) {
	m.obsMutex.Lock()
	defer m.obsMutex.Unlock()
	m.observers = append(m.observers, o)
}

type candidate struct {
	dir      string
	pluginID string
	rec      *record
	kind     api.ErrorKind
	err      error
}

// Discover scans the root and loads every candidate not yet known.
// Candidates load concurrently; their records are merged one at a time.
// Only a systemic failure (unreadable root, cancellation) is returned.
func (m *Manager) Discover(ctx context.Context) error {
	dirs, err := scanner.Scan(ctx, m.cfg.Root)
	if err != nil {
		return err
	}

	known := m.knownDirs()
	pending := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if _, ok := known[filepath.Clean(dir)]; !ok {
			pending = append(pending, dir)
		}
	}

	results := make([]candidate, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.LoadConcurrency)
	for i, dir := range pending {
		g.Go(func() error {
			results[i] = m.loadCandidate(gctx, dir)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for _, c := range results {
			if c.rec != nil {
				_ = c.rec.close()
			}
		}
		return err
	}

	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	for _, c := range results {
		if c.err != nil {
			m.recordError(ctx, c.pluginID, api.PhaseLoad, c.kind, c.err)
			continue
		}
		if existing, ok := m.lookup(c.pluginID); ok {
			_ = c.rec.close()
			m.recordError(ctx, c.pluginID, api.PhaseLoad, api.KindManifest,
				fmt.Errorf("plugin id %s in %s is already used by %s", c.pluginID, c.dir, existing.plugin.Dir))
			continue
		}

		m.mutex.Lock()
		m.plugins[c.pluginID] = c.rec
		m.mutex.Unlock()
		m.setStatus(ctx, c.rec, api.StatusLoaded)

		m.logger.Info("plugin loaded",
			zap.String("plugin_id", c.pluginID),
			zap.String("version", c.rec.plugin.Manifest.Version),
			zap.String("dir", c.dir),
		)
	}
	return nil
}

func (m *Manager) loadCandidate(ctx context.Context, dir string) candidate {
	c := candidate{dir: dir, pluginID: pluginid.Generate(filepath.Base(dir))}

	mf, err := m.manifests.Load(dir)
	if err != nil {
		c.kind = api.KindManifest
		c.err = err
		return c
	}
	c.pluginID = mf.PluginID

	rec, err := m.resolver.resolve(ctx, mf, true)
	if err != nil {
		c.kind = api.KindLoad
		c.err = err
		return c
	}
	c.rec = rec
	return c
}

// Activate registers a loaded or inactive plugin's extensions. On any
// failure nothing stays registered and a PluginError is recorded.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	rec, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	if status := m.status(rec); status != api.StatusLoaded && status != api.StatusInactive {
		return lifecycleError(id, status, "activate")
	}

	activated := false
	if rec.activate != nil {
		if _, err := callGuarded(func() (any, error) { return rec.activate(ctx, rec.pctx) }); err != nil {
			pe := m.recordError(ctx, id, api.PhaseActivate, api.KindLifecycle, err)
			return apperrors.Wrap(pe, apperrors.ForKind(string(pe.Kind))).WithMessagef("plugin %s failed to activate", id)
		}
		activated = true
	}

	if err := m.registry.Register(id, rec.contributions); err != nil {
		m.rollbackActivate(ctx, rec, activated)
		pe := m.recordError(ctx, id, api.PhaseActivate, api.KindRegistration, err)
		return apperrors.Wrap(pe, apperrors.ForKind(string(pe.Kind))).WithMessagef("plugin %s failed to register its extensions", id)
	}
	if m.provisioner != nil {
		if err := m.provisioner.SyncPlugin(ctx, id); err != nil {
			m.registry.Unregister(id)
			m.rollbackActivate(ctx, rec, activated)
			pe := m.recordError(ctx, id, api.PhaseActivate, api.KindRegistration, err)
			return apperrors.Wrap(pe, apperrors.ForKind(string(pe.Kind))).WithMessagef("plugin %s failed to provision its storage", id)
		}
	}

	now := time.Now().UTC()
	m.mutex.Lock()
	rec.plugin.ActivatedAt = &now
	m.mutex.Unlock()
	m.setStatus(ctx, rec, api.StatusActive)
	m.invalidateSchema()

	m.logger.Info("plugin activated",
		zap.String("plugin_id", id),
		zap.Int("extensions", len(rec.contributions.Entries)),
		zap.Int("hooks", len(rec.contributions.Hooks)),
	)
	return nil
}

// rollbackActivate undoes a successful activate entry point
func (m *Manager) rollbackActivate(ctx context.Context, rec *record, activated bool) {
	if !activated || rec.deactivate == nil {
		return
	}
	if _, err := callGuarded(func() (any, error) { return rec.deactivate(ctx, rec.pctx) }); err != nil {
		m.logger.Warn("rollback deactivate failed",
			zap.String("plugin_id", rec.plugin.ID),
			zap.Error(err),
		)
	}
}

// Deactivate unregisters an active plugin. Deactivating a plugin that is
// not active is a no-op. Errors from the plugin's own deactivate are
// recorded but do not keep its extensions registered.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	rec, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	if m.status(rec) != api.StatusActive {
		return nil
	}

	m.deactivateLocked(ctx, rec)
	return nil
}

func (m *Manager) deactivateLocked(ctx context.Context, rec *record) {
	id := rec.plugin.ID
	if rec.deactivate != nil {
		if _, err := callGuarded(func() (any, error) { return rec.deactivate(ctx, rec.pctx) }); err != nil {
			m.recordError(ctx, id, api.PhaseDeactivate, api.KindLifecycle, err)
		}
	}

	m.registry.Unregister(id)
	m.mutex.Lock()
	rec.plugin.ActivatedAt = nil
	m.mutex.Unlock()
	m.setStatus(ctx, rec, api.StatusInactive)
	m.invalidateSchema()

	m.logger.Info("plugin deactivated", zap.String("plugin_id", id))
}

// Unload drops a plugin that is not active and releases its modules
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	rec, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	if status := m.status(rec); status == api.StatusActive {
		return apperrors.ErrLifecycle.WithMessagef("plugin %s is active; deactivate it before unloading", id)
	}

	m.unloadLocked(ctx, rec)
	return nil
}

func (m *Manager) unloadLocked(ctx context.Context, rec *record) {
	id := rec.plugin.ID
	if err := rec.close(); err != nil {
		m.recordError(ctx, id, api.PhaseUnload, api.KindLifecycle, err)
	}

	m.mutex.Lock()
	delete(m.plugins, id)
	m.mutex.Unlock()
	m.setStatus(ctx, rec, api.StatusUnloaded)

	m.logger.Info("plugin unloaded", zap.String("plugin_id", id))
}

// ActivateAll activates every loaded or inactive plugin in id order.
// Per-plugin failures are recorded, not returned.
func (m *Manager) ActivateAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, ok := m.GetStatus(id)
		if !ok || (status != api.StatusLoaded && status != api.StatusInactive) {
			continue
		}
		if err := m.Activate(ctx, id); err != nil {
			m.logger.Warn("plugin activation failed",
				zap.String("plugin_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Reload unloads every plugin, rediscovers the root and re-activates.
// With AutoActivate all loaded plugins are activated, otherwise only the
// ones that were active before the reload.
func (m *Manager) Reload(ctx context.Context) error {
	wasActive := make(map[string]bool)
	for _, p := range m.Plugins() {
		if p.Status == api.StatusActive {
			wasActive[p.ID] = true
		}
	}

	m.unloadAll(ctx)

	if err := m.Discover(ctx); err != nil {
		return fmt.Errorf("failed to rediscover plugins: %w", err)
	}

	if m.cfg.AutoActivate {
		return m.ActivateAll(ctx)
	}
	for _, id := range m.ids() {
		if !wasActive[id] {
			continue
		}
		if err := m.Activate(ctx, id); err != nil {
			m.logger.Warn("plugin re-activation failed",
				zap.String("plugin_id", id),
				zap.Error(err),
			)
		}
	}
	return ctx.Err()
}

// Shutdown deactivates and unloads every plugin
func (m *Manager) Shutdown(ctx context.Context) error {
	m.unloadAll(ctx)
	m.logger.Info("plugin manager shutdown complete")
	return nil
}

func (m *Manager) unloadAll(ctx context.Context) {
	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	ids := m.ids()
	// reverse id order
	for i := len(ids) - 1; i >= 0; i-- {
		rec, ok := m.lookup(ids[i])
		if !ok {
			continue
		}
		if m.status(rec) == api.StatusActive {
			m.deactivateLocked(ctx, rec)
		}
		m.unloadLocked(ctx, rec)
	}
}

// GetStatus returns a plugin's lifecycle status
func (m *Manager) GetStatus(id string) (api.Status, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	rec, ok := m.plugins[id]
	if !ok {
		return "", false
	}
	return rec.plugin.Status, true
}

// Plugin returns a copy of a plugin's record
func (m *Manager) Plugin(id string) (api.LoadedPlugin, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	rec, ok := m.plugins[id]
	if !ok {
		return api.LoadedPlugin{}, false
	}
	return *rec.plugin, true
}

// Plugins returns copies of every plugin record sorted by id
func (m *Manager) Plugins() []api.LoadedPlugin {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]api.LoadedPlugin, 0, len(m.plugins))
	for _, rec := range m.plugins {
		out = append(out, *rec.plugin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetErrors returns every recorded PluginError in order
func (m *Manager) GetErrors() []api.PluginError {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]api.PluginError(nil), m.errors...)
}

// ErrorsFor returns the recorded errors of one plugin
func (m *Manager) ErrorsFor(id string) []api.PluginError {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []api.PluginError
	for _, e := range m.errors {
		if e.PluginID == id {
			out = append(out, e)
		}
	}
	return out
}

// Registry returns the read-only registry view
func (m *Manager) Registry() registry.Reader {
	return m.registry
}

// RecordError appends a PluginError raised outside a lifecycle
// transition, such as a failing hook handler.
func (m *Manager) RecordError(ctx context.Context, pluginID string, phase api.Phase, kind api.ErrorKind, err error) api.PluginError {
	return m.recordError(ctx, pluginID, phase, kind, err)
}

func (m *Manager) recordError(ctx context.Context, pluginID string, phase api.Phase, kind api.ErrorKind, err error) api.PluginError {
	pe := api.NewPluginError(pluginID, phase, kind, err)

	m.mutex.Lock()
	m.errors = append(m.errors, pe)
	m.mutex.Unlock()

	m.logger.Warn("plugin error",
		zap.String("plugin_id", pluginID),
		zap.String("phase", string(phase)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	for _, o := range m.snapshotObservers() {
		m.notify(func() { o.OnError(ctx, pe) })
	}
	return pe
}

func (m *Manager) setStatus(ctx context.Context, rec *record, to api.Status) {
	m.mutex.Lock()
	from := rec.plugin.Status
	rec.plugin.Status = to
	m.mutex.Unlock()

	event := StatusEvent{PluginID: rec.plugin.ID, From: from, To: to, At: time.Now().UTC()}
	for _, o := range m.snapshotObservers() {
		m.notify(func() { o.OnStatusChange(ctx, event) })
	}
}

// notify shields the manager from a panicking observer
func (m *Manager) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin observer panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (m *Manager) snapshotObservers() []Observer {
	m.obsMutex.RLock()
	defer m.obsMutex.RUnlock()
	return append([]Observer(nil), m.observers...)
}

func (m *Manager) invalidateSchema() {
	if m.host.GraphQL != nil {
		m.host.GraphQL.Invalidate()
	}
}

func (m *Manager) lookup(id string) (*record, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	rec, ok := m.plugins[id]
	return rec, ok
}

func (m *Manager) status(rec *record) api.Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return rec.plugin.Status
}

func (m *Manager) ids() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make([]string, 0, len(m.plugins))
	for id := range m.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) knownDirs() map[string]struct{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	dirs := make(map[string]struct{}, len(m.plugins))
	for _, rec := range m.plugins {
		dirs[filepath.Clean(rec.plugin.Dir)] = struct{}{}
	}
	return dirs
}

// Validate loads and resolves dir without running plugin code beyond
// import and without touching the registry.
func Validate(ctx context.Context, dir string, ml loader.ModuleLoader, manifestFile string, logger *zap.Logger) (*api.Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mf, err := manifest.NewLoader(manifestFile, logger).Load(dir)
	if err != nil {
		return nil, err
	}

	r := &resolver{loader: ml, host: pcontext.Host{Logger: logger}, logger: logger}
	rec, err := r.resolve(ctx, mf, false)
	if err != nil {
		return mf, err
	}

	reg := registry.New()
	regErr := reg.Register(mf.PluginID, rec.contributions)
	closeErr := rec.close()
	return mf, errors.Join(regErr, closeErr)
}
