package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisauth/pluginhost/internal/metrics"
)

// ManagerConfig wires the manager's collaborators and defaults
type ManagerConfig struct {
	// Loader is the optional dynamic loader used by LoadAndRegister
	// and hot-reload. A manager without a loader only accepts
	// descriptors registered directly.
	Loader *Loader

	// Metrics is optional; a nil value disables metric recording.
	Metrics *metrics.Metrics

	// Collaborators are injected into every plugin context.
	Collaborators Collaborators

	// Storage is the backend plugin storage scopes onto. Defaults to
	// the in-memory backend.
	Storage StorageBackend

	// HookDefaults bound per-handler timeouts and retries.
	HookDefaults HookDefaults

	// Health configures the periodic health sweep.
	Health HealthConfig

	// PluginConfigs holds per-plugin configuration overrides keyed by
	// plugin id, merged over each descriptor's defaults.
	PluginConfigs map[string]map[string]any
}

// Manager owns the full plugin lifecycle: validation, registration,
// context creation, hook and middleware wiring, health tracking, and
// teardown. It composes the registry, context factory, hook engine,
// middleware engine, and error dispatcher behind one façade.
type Manager struct {
	logger     zerolog.Logger
	validator  *Validator
	registry   *Registry
	contexts   *Factory
	hooks      *HookEngine
	middleware *MiddlewareEngine
	loader     *Loader
	dispatcher *ErrorDispatcher
	health     *HealthMonitor
	bus        *EventBus
	metrics    *metrics.Metrics

	mu            sync.RWMutex
	snapshots     map[string]*PerformanceSnapshot
	pluginConfigs map[string]map[string]any
}

// NewManager builds a manager and starts the health sweep when a
// schedule is configured.
func NewManager(logger zerolog.Logger, cfg ManagerConfig) (*Manager, error) {
	registry := NewRegistry(logger)
	dispatcher := NewErrorDispatcher(logger)
	bus := NewEventBus()

	pluginConfigs := cfg.PluginConfigs
	if pluginConfigs == nil {
		pluginConfigs = make(map[string]map[string]any)
	}

	m := &Manager{
		logger:        logger.With().Str("component", "plugin-manager").Logger(),
		validator:     NewValidator(logger),
		registry:      registry,
		contexts:      NewFactory(logger, cfg.Storage, bus, cfg.Collaborators),
		hooks:         NewHookEngine(logger, registry, dispatcher, cfg.HookDefaults),
		middleware:    NewMiddlewareEngine(logger, registry),
		loader:        cfg.Loader,
		dispatcher:    dispatcher,
		bus:           bus,
		metrics:       cfg.Metrics,
		snapshots:     make(map[string]*PerformanceSnapshot),
		pluginConfigs: pluginConfigs,
	}

	dispatcher.SetObserver(m.recordError)

	m.health = NewHealthMonitor(logger, cfg.Health, m.snapshotView, m.onDegraded)
	if err := m.health.Start(cfg.Health.Schedule); err != nil {
		return nil, err
	}

	return m, nil
}

// Events returns the manager-level event bus. Registration and
// lifecycle transitions are emitted on it.
func (m *Manager) Events() *EventBus {
	return m.bus
}

// Errors returns the error dispatcher for handler registration
func (m *Manager) Errors() *ErrorDispatcher {
	return m.dispatcher
}

// Hooks returns the hook engine
func (m *Manager) Hooks() *HookEngine {
	return m.hooks
}

// Middleware returns the middleware engine
func (m *Manager) Middleware() *MiddlewareEngine {
	return m.middleware
}

// Register runs the full registration pipeline for a descriptor:
// structural validation, dependency checks, beforeRegister, registry
// insertion, context creation, config validation, initialize, hook and
// middleware wiring, activation, afterRegister. A failure at any stage
// marks the plugin errored, dispatches the classified error, and
// returns it. Already-completed stages are not rolled back; the errored
// record stays visible for inspection and re-registration.
func (m *Manager) Register(ctx context.Context, d *Descriptor) error {
	if d == nil {
		return newError(CodeInvalidPlugin, "", "register", "descriptor is nil")
	}
	if m.registry.Has(d.ID) {
		return newError(CodeAlreadyRegistered, d.ID, "register",
			fmt.Sprintf("plugin %s is already registered", d.ID))
	}
	start := time.Now()

	m.logger.Debug().
		Str("plugin", d.ID).
		Str("version", d.Version).
		Str("type", string(d.Type)).
		Msg("Registering plugin")

	if err := m.validator.ValidateDescriptor(d); err != nil {
		return m.failRegister(d.ID, "register", err)
	}
	if err := m.checkDependencies(d); err != nil {
		return m.failRegister(d.ID, "register", err)
	}
	if err := m.runLifecycle(ctx, d, PhaseBeforeRegister, nil); err != nil {
		return m.failRegister(d.ID, "register", err)
	}

	if err := m.registry.Register(d); err != nil {
		return m.failRegister(d.ID, "register", err)
	}
	if err := m.registry.SetStatus(d.ID, StatusLoading); err != nil {
		return m.failRegister(d.ID, "register", err)
	}

	pc, err := m.contexts.Create(d, m.pluginConfigs[d.ID])
	if err != nil {
		return m.failRegister(d.ID, "register", err)
	}
	if err := m.validator.ValidateConfig(d, pc.Config); err != nil {
		return m.failRegister(d.ID, "register", err)
	}

	if err := m.runLifecycle(ctx, d, PhaseInitialize, pc); err != nil {
		return m.failRegister(d.ID, "initialize", err)
	}

	if err := m.wireHooks(d); err != nil {
		return m.failRegister(d.ID, "register", err)
	}
	if err := m.middleware.Register(d.ID, d.Middleware); err != nil {
		return m.failRegister(d.ID, "register", err)
	}

	if err := m.registry.Enable(d.ID); err != nil {
		return m.failRegister(d.ID, "register", err)
	}

	m.mu.Lock()
	m.snapshots[d.ID] = &PerformanceSnapshot{
		LoadTime:      time.Since(start),
		HookLatencies: make(map[string]time.Duration),
		LastActivity:  time.Now(),
	}
	m.mu.Unlock()

	if err := m.runLifecycle(ctx, d, PhaseAfterRegister, pc); err != nil {
		return m.failRegister(d.ID, "register", err)
	}

	if m.metrics != nil {
		m.metrics.PluginsActive.Inc()
		m.metrics.PluginRegistrationsTotal.WithLabelValues("success").Inc()
	}

	m.bus.Emit("plugin:registered", d.ID)
	m.bus.Emit("plugin:loaded", d.ID)

	m.logger.Info().
		Str("plugin", d.ID).
		Str("version", d.Version).
		Dur("load_time", time.Since(start)).
		Msg("Plugin registered")

	return nil
}

// Unregister tears a plugin down: beforeUnregister, disable, destroy,
// hook and middleware removal, context destruction, registry removal,
// afterUnregister. The plugin's stored state and event subscriptions
// are dropped with its context.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	return m.teardown(ctx, id, true)
}

func (m *Manager) teardown(ctx context.Context, id string, runDestroy bool) error {
	record, exists := m.registry.Get(id)
	if !exists {
		return newError(CodeNotFound, id, "unregister", "plugin not registered")
	}
	d := record.Descriptor
	pc, _ := m.contexts.Get(id)

	if err := m.runLifecycle(ctx, d, PhaseBeforeUnregister, pc); err != nil {
		return m.failUnregister(id, err)
	}

	if record.Enabled {
		if err := m.registry.Disable(id); err != nil {
			return m.failUnregister(id, err)
		}
	}
	if err := m.registry.SetStatus(id, StatusLoading); err != nil {
		return m.failUnregister(id, err)
	}

	if runDestroy {
		if err := m.runLifecycle(ctx, d, PhaseDestroy, pc); err != nil {
			return m.failUnregister(id, err)
		}
	}

	m.hooks.UnregisterPlugin(id)
	m.middleware.UnregisterPlugin(id)
	if pc != nil {
		_ = m.contexts.Destroy(id)
	}

	if err := m.registry.SetStatus(id, StatusDisabled); err != nil {
		return m.failUnregister(id, err)
	}
	if err := m.registry.Unregister(id); err != nil {
		return m.failUnregister(id, err)
	}

	m.mu.Lock()
	delete(m.snapshots, id)
	m.mu.Unlock()
	m.health.Forget(id)
	m.dispatcher.RemovePluginHandler(id)

	if err := m.runLifecycle(ctx, d, PhaseAfterUnregister, nil); err != nil {
		return m.failUnregister(id, err)
	}

	if m.metrics != nil {
		m.metrics.PluginsActive.Dec()
	}

	m.bus.Emit("plugin:unregistered", id)
	m.logger.Info().Str("plugin", id).Msg("Plugin unregistered")

	return nil
}

// Enable re-activates a disabled plugin without re-running initialize
func (m *Manager) Enable(id string) error {
	if err := m.registry.Enable(id); err != nil {
		return err
	}
	m.bus.Emit("plugin:enabled", id)
	return nil
}

// Disable deactivates a plugin. Its hooks and middleware stop matching
// but its context and stored state survive.
func (m *Manager) Disable(id string) error {
	if err := m.registry.Disable(id); err != nil {
		return err
	}
	m.bus.Emit("plugin:disabled", id)
	return nil
}

// Get returns the registration record for a plugin
func (m *Manager) Get(id string) (*Record, bool) {
	return m.registry.Get(id)
}

// List returns registered plugins matching the filter
func (m *Manager) List(filter Filter) []*Record {
	return m.registry.List(filter)
}

// Context returns the runtime context for a registered plugin
func (m *Manager) Context(id string) (*Context, bool) {
	return m.contexts.Get(id)
}

// ExecuteHook runs the named hook pipeline over data and records
// execution metrics and per-plugin activity.
func (m *Manager) ExecuteHook(ctx context.Context, hookName string, data any, pluginIDs ...string) (any, error) {
	start := time.Now()
	result, err := m.hooks.Execute(ctx, hookName, data, pluginIDs...)
	elapsed := time.Since(start)

	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.HookExecutionsTotal.WithLabelValues(hookName, status).Inc()
		m.metrics.HookExecutionDuration.WithLabelValues(hookName).Observe(elapsed.Seconds())
	}

	m.touchHook(hookName, elapsed)
	return result, err
}

// ExecuteMiddleware assembles and runs the middleware chain matching
// the request's path and method.
func (m *Manager) ExecuteMiddleware(ctx context.Context, req *Request, res *Response) error {
	chain := m.middleware.ForRequest(req.Path, req.Method)
	err := m.middleware.Execute(ctx, chain, req, res)

	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.MiddlewareExecutionsTotal.WithLabelValues(status).Inc()
	}

	return err
}

// ExecuteLifecycleHook runs one lifecycle phase. With a plugin id it
// targets that plugin and returns its error. With an empty id it runs
// the phase across all active plugins in priority order; individual
// failures are dispatched and do not stop the sweep.
func (m *Manager) ExecuteLifecycleHook(ctx context.Context, phase LifecyclePhase, pluginID string) error {
	if pluginID != "" {
		record, exists := m.registry.Get(pluginID)
		if !exists {
			return newError(CodeNotFound, pluginID, "lifecycle", "plugin not registered")
		}
		pc, _ := m.contexts.Get(pluginID)
		return m.runLifecycle(ctx, record.Descriptor, phase, pc)
	}

	for _, record := range m.registry.List(Filter{Status: StatusActive}) {
		pc, _ := m.contexts.Get(record.Descriptor.ID)
		if err := m.runLifecycle(ctx, record.Descriptor, phase, pc); err != nil {
			var pe *Error
			if !errors.As(err, &pe) {
				pe = wrapError(CodeRegistryError, record.Descriptor.ID, "lifecycle:"+string(phase), err)
			}
			m.dispatcher.Dispatch(pe)
		}
	}
	return nil
}

// LoadAndRegister loads a plugin from a source through the dynamic
// loader and registers the resulting descriptor.
func (m *Manager) LoadAndRegister(ctx context.Context, source string, opts LoadOptions) (*Descriptor, error) {
	if m.loader == nil {
		return nil, newError(CodeLoadError, "", "load", "no loader configured")
	}

	d, err := m.loader.Load(ctx, source, opts)
	if err != nil {
		if m.metrics != nil {
			m.metrics.PluginLoadFailuresTotal.Inc()
		}
		var pe *Error
		if errors.As(err, &pe) {
			m.dispatcher.Dispatch(pe)
		}
		return nil, err
	}

	if err := m.Register(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// EnableHotReload watches a file-backed plugin's source and replaces
// the registration whenever it changes: reload, unregister the old
// version, register the new one. It returns a cancel function.
func (m *Manager) EnableHotReload(id string) (func(), error) {
	if m.loader == nil {
		return nil, newError(CodeLoadError, id, "watch", "no loader configured")
	}
	return m.loader.WatchReload(id, func(pluginID string) {
		ctx := context.Background()

		d, err := m.loader.Reload(ctx, pluginID)
		if err != nil {
			m.dispatchAny(pluginID, "reload", err)
			return
		}
		if m.registry.Has(pluginID) {
			if err := m.Unregister(ctx, pluginID); err != nil {
				m.dispatchAny(pluginID, "reload", err)
				return
			}
		}
		if err := m.Register(ctx, d); err != nil {
			return
		}
		m.bus.Emit("plugin:reloaded", pluginID)
	})
}

// Snapshot returns the performance snapshot for a plugin
func (m *Manager) Snapshot(id string) (PerformanceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, exists := m.snapshots[id]
	if !exists {
		return PerformanceSnapshot{}, false
	}
	return cloneSnapshot(snapshot), true
}

// RecordUsage updates a plugin's resource estimates used by health
// derivation
func (m *Manager) RecordUsage(id string, memoryBytes int64, cpuPercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshotLocked(id)
	snapshot.MemoryEstimate = memoryBytes
	snapshot.CPUEstimate = cpuPercent
	snapshot.LastActivity = time.Now()
}

// Health returns the derived health report for a plugin, computing it
// from the current snapshot when no sweep has run yet.
func (m *Manager) Health(id string) (HealthReport, bool) {
	if report, ok := m.health.Report(id); ok {
		return report, true
	}
	m.mu.RLock()
	snapshot, exists := m.snapshots[id]
	var copied PerformanceSnapshot
	if exists {
		copied = cloneSnapshot(snapshot)
	}
	m.mu.RUnlock()
	if !exists {
		return HealthReport{PluginID: id, State: HealthUnknown}, false
	}
	return m.health.Compute(id, copied), true
}

// CheckHealth forces an immediate health sweep
func (m *Manager) CheckHealth() {
	m.health.Sweep()
}

// Destroy tears the whole manager down: the destroy phase runs across
// all active plugins, every registration is removed best-effort, and
// the health sweep stops. The loader, when present, is closed.
func (m *Manager) Destroy(ctx context.Context) error {
	m.health.Stop()

	_ = m.ExecuteLifecycleHook(ctx, PhaseDestroy, "")

	var firstErr error
	for _, record := range m.registry.List(Filter{}) {
		if err := m.teardown(ctx, record.Descriptor.ID, false); err != nil {
			m.logger.Error().
				Err(err).
				Str("plugin", record.Descriptor.ID).
				Msg("Failed to unregister plugin during shutdown")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	m.mu.Lock()
	m.snapshots = make(map[string]*PerformanceSnapshot)
	m.mu.Unlock()

	if m.loader != nil {
		if err := m.loader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.bus.Emit("manager:destroyed", nil)
	m.logger.Info().Msg("Plugin manager destroyed")

	return firstErr
}

// checkDependencies verifies declared dependencies and peer
// dependencies against the current registry before registration.
func (m *Manager) checkDependencies(d *Descriptor) error {
	for _, dep := range d.Dependencies {
		if dep.ID == d.ID {
			return newError(CodeCircularDependency, d.ID, "register",
				fmt.Sprintf("dependency cycle: %s -> %s", d.ID, d.ID))
		}
		record, ok := m.registry.Get(dep.ID)
		if !ok {
			return newError(CodeDependencyNotFound, d.ID, "register",
				fmt.Sprintf("dependency %s is not registered", dep.ID))
		}
		if err := CheckVersionConstraint(record.Descriptor.Version, dep.Version); err != nil {
			return wrapError(CodeIncompatibleVersion, d.ID, "register", err)
		}
	}
	for _, peer := range d.PeerDependencies {
		record, ok := m.registry.Get(peer.ID)
		if !ok {
			return newError(CodeDependencyNotFound, d.ID, "register",
				fmt.Sprintf("peer dependency %s is not registered", peer.ID))
		}
		if err := CheckVersionConstraint(record.Descriptor.Version, peer.Version); err != nil {
			return wrapError(CodeIncompatibleVersion, d.ID, "register", err)
		}
	}
	return nil
}

// runLifecycle invokes the descriptor function for one phase, if
// declared. Initialize and destroy live on their own descriptor
// fields; the remaining phases come from the Lifecycle map.
func (m *Manager) runLifecycle(ctx context.Context, d *Descriptor, phase LifecyclePhase, pc *Context) error {
	var fn LifecycleFunc
	switch phase {
	case PhaseInitialize:
		fn = d.Initialize
	case PhaseDestroy:
		fn = d.Destroy
	default:
		fn = d.Lifecycle[phase]
	}
	if fn == nil {
		return nil
	}

	if err := fn(ctx, pc); err != nil {
		code := CodeRegistryError
		if phase == PhaseInitialize {
			code = CodeInitError
		}
		return wrapError(code, d.ID, "lifecycle:"+string(phase), err)
	}
	return nil
}

// wireHooks registers every hook the descriptor declares
func (m *Manager) wireHooks(d *Descriptor) error {
	for name, spec := range d.Hooks {
		priority := spec.Priority
		if priority == 0 {
			priority = d.Priority.Weight()
		}
		err := m.hooks.Register(d.ID, name, spec.Handler, HookOptions{
			Priority: priority,
			Timeout:  spec.Timeout,
			Retries:  spec.Retries,
			Enabled:  true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) failRegister(id, op string, err error) error {
	if m.registry.Has(id) {
		_ = m.registry.SetStatus(id, StatusError)
	}
	pe := classify(id, op, err)
	m.dispatcher.Dispatch(pe)
	if m.metrics != nil {
		m.metrics.PluginRegistrationsTotal.WithLabelValues("error").Inc()
	}
	return pe
}

func (m *Manager) failUnregister(id string, err error) error {
	if m.registry.Has(id) {
		_ = m.registry.SetStatus(id, StatusError)
	}
	pe := classify(id, "unregister", err)
	m.dispatcher.Dispatch(pe)
	return pe
}

func (m *Manager) dispatchAny(id, op string, err error) {
	m.dispatcher.Dispatch(classify(id, op, err))
}

// classify returns err as a plugin error, wrapping unclassified errors
// under the registry catch-all code
func classify(id, op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return wrapError(CodeRegistryError, id, op, err)
}

// recordError is the dispatcher observer; every dispatched error
// increments the owning plugin's snapshot error count.
func (m *Manager) recordError(err *Error) {
	if err.PluginID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshotLocked(err.PluginID)
	snapshot.ErrorCount++
	snapshot.LastActivity = time.Now()
}

// touchHook records hook activity on every plugin registered for the
// hook name
func (m *Manager) touchHook(hookName string, elapsed time.Duration) {
	registrations := m.hooks.Registrations(hookName)
	if len(registrations) == 0 {
		return
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, registration := range registrations {
		snapshot := m.snapshotLocked(registration.PluginID)
		snapshot.HookLatencies[hookName] = elapsed
		snapshot.LastActivity = now
	}
}

// snapshotLocked returns the snapshot for a plugin, creating it when
// missing. Callers must hold m.mu.
func (m *Manager) snapshotLocked(id string) *PerformanceSnapshot {
	snapshot, exists := m.snapshots[id]
	if !exists {
		snapshot = &PerformanceSnapshot{HookLatencies: make(map[string]time.Duration)}
		m.snapshots[id] = snapshot
	}
	return snapshot
}

// snapshotView is the health monitor's view over tracked snapshots
func (m *Manager) snapshotView() map[string]PerformanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view := make(map[string]PerformanceSnapshot, len(m.snapshots))
	for id, snapshot := range m.snapshots {
		view[id] = cloneSnapshot(snapshot)
	}
	return view
}

// onDegraded publishes degraded health reports and updates the health
// score gauge
func (m *Manager) onDegraded(report HealthReport) {
	if m.metrics != nil {
		m.metrics.PluginHealthScore.WithLabelValues(report.PluginID).Set(float64(report.Score))
	}
	m.bus.Emit("plugin:health:degraded", report)
}

func cloneSnapshot(snapshot *PerformanceSnapshot) PerformanceSnapshot {
	copied := *snapshot
	copied.HookLatencies = make(map[string]time.Duration, len(snapshot.HookLatencies))
	for name, latency := range snapshot.HookLatencies {
		copied.HookLatencies[name] = latency
	}
	return copied
}
