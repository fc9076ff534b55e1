package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HookOptions configure one hook registration
type HookOptions struct {
	Priority int
	Timeout  time.Duration
	Retries  int
	Enabled  bool
}

// HookRegistration is one (pluginId, hookName) handler entry
type HookRegistration struct {
	PluginID string
	HookName string
	Handler  HookHandler
	Priority int
	Timeout  time.Duration
	Retries  int
	Enabled  bool

	seq uint64
}

// HookStats are per-hook-name execution statistics
type HookStats struct {
	Total          uint64
	Succeeded      uint64
	Failed         uint64
	AverageLatency time.Duration
}

// HookDefaults bound per-handler execution when a registration leaves
// them unset
type HookDefaults struct {
	Timeout    time.Duration
	MaxRetries int
	BackoffCap time.Duration
}

// HookEngine runs named, priority-ordered transform pipelines. Handler
// failures are isolated: a failing handler is reported and skipped,
// the pipeline continues with unchanged data. The engine reads plugin
// activity from the registry but never mutates it.
type HookEngine struct {
	logger     zerolog.Logger
	registry   *Registry
	dispatcher *ErrorDispatcher
	defaults   HookDefaults

	mu      sync.RWMutex
	hooks   map[string][]*HookRegistration
	stats   map[string]*HookStats
	nextSeq uint64
}

// NewHookEngine creates a hook engine
func NewHookEngine(logger zerolog.Logger, registry *Registry, dispatcher *ErrorDispatcher, defaults HookDefaults) *HookEngine {
	if defaults.BackoffCap <= 0 {
		defaults.BackoffCap = 2 * time.Second
	}
	return &HookEngine{
		logger:     logger.With().Str("component", "hook-engine").Logger(),
		registry:   registry,
		dispatcher: dispatcher,
		defaults:   defaults,
		hooks:      make(map[string][]*HookRegistration),
		stats:      make(map[string]*HookStats),
	}
}

// Register upserts the handler for (pluginID, hookName). Entries per
// hook name are kept sorted descending by priority, stable on ties.
func (e *HookEngine) Register(pluginID, hookName string, handler HookHandler, opts HookOptions) error {
	if handler == nil {
		return newError(CodeHookError, pluginID, "register-hook", "handler is required")
	}
	if hookName == "" {
		return newError(CodeHookError, pluginID, "register-hook", "hook name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry := &HookRegistration{
		PluginID: pluginID,
		HookName: hookName,
		Handler:  handler,
		Priority: opts.Priority,
		Timeout:  opts.Timeout,
		Retries:  opts.Retries,
		Enabled:  opts.Enabled,
	}

	entries := e.hooks[hookName]
	replaced := false
	for i, existing := range entries {
		if existing.PluginID == pluginID {
			entry.seq = existing.seq
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		e.nextSeq++
		entry.seq = e.nextSeq
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].seq < entries[j].seq
	})
	e.hooks[hookName] = entries

	e.logger.Debug().
		Str("plugin", pluginID).
		Str("hook", hookName).
		Int("priority", entry.Priority).
		Msg("Hook registered")

	return nil
}

// Unregister removes the (pluginID, hookName) entry
func (e *HookEngine) Unregister(pluginID, hookName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[hookName] = removeByPlugin(e.hooks[hookName], pluginID)
}

// UnregisterPlugin removes every hook entry for a plugin and returns
// the hook names it was registered for
func (e *HookEngine) UnregisterPlugin(pluginID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var removed []string
	for name, entries := range e.hooks {
		filtered := removeByPlugin(entries, pluginID)
		if len(filtered) != len(entries) {
			removed = append(removed, name)
		}
		e.hooks[name] = filtered
	}
	sort.Strings(removed)
	return removed
}

// SetEnabled toggles one registration without removing it
func (e *HookEngine) SetEnabled(pluginID, hookName string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.hooks[hookName] {
		if entry.PluginID == pluginID {
			entry.Enabled = enabled
			return nil
		}
	}
	return newError(CodeNotFound, pluginID, "set-hook-enabled",
		fmt.Sprintf("no registration for hook %q", hookName))
}

// Registrations returns a snapshot of the entries for a hook name in
// execution order
func (e *HookEngine) Registrations(hookName string) []*HookRegistration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*HookRegistration(nil), e.hooks[hookName]...)
}

// Execute runs the pipeline for hookName. Each enabled handler of an
// active plugin receives the current value and returns the next one.
// A handler failure leaves the data unchanged and the pipeline
// continues. If pluginIDs are given, only those plugins' handlers run.
func (e *HookEngine) Execute(ctx context.Context, hookName string, data any, pluginIDs ...string) (any, error) {
	entries := e.Registrations(hookName)
	if len(entries) == 0 {
		return data, nil
	}

	var only map[string]bool
	if len(pluginIDs) > 0 {
		only = make(map[string]bool, len(pluginIDs))
		for _, id := range pluginIDs {
			only[id] = true
		}
	}

	current := data
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if only != nil && !only[entry.PluginID] {
			continue
		}
		if !e.registry.IsActive(entry.PluginID) {
			continue
		}

		start := time.Now()
		next, err := e.executeOne(ctx, entry, current)
		latency := time.Since(start)

		if err != nil {
			e.recordResult(hookName, latency, false)
			e.dispatcher.Dispatch(wrapError(CodeHookError, entry.PluginID, "execute-hook:"+hookName, err))
			continue
		}

		e.recordResult(hookName, latency, true)
		current = next
	}

	return current, nil
}

// executeOne races one handler invocation against its timeout and
// retries failures with doubling, capped backoff.
func (e *HookEngine) executeOne(ctx context.Context, entry *HookRegistration, data any) (any, error) {
	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = e.defaults.Timeout
	}
	retries := entry.Retries
	if retries < 0 {
		retries = 0
	}
	if e.defaults.MaxRetries > 0 && retries > e.defaults.MaxRetries {
		retries = e.defaults.MaxRetries
	}

	backoff := 50 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > e.defaults.BackoffCap {
				backoff = e.defaults.BackoffCap
			}
		}

		result, err := e.invoke(ctx, entry, data, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		e.logger.Debug().
			Str("plugin", entry.PluginID).
			Str("hook", entry.HookName).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Hook handler attempt failed")
	}

	return nil, lastErr
}

type hookResult struct {
	value any
	err   error
}

// invoke runs a single handler attempt in its own goroutine so a stuck
// handler cannot block the pipeline past its deadline.
func (e *HookEngine) invoke(ctx context.Context, entry *HookRegistration, data any, timeout time.Duration) (any, error) {
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	results := make(chan hookResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- hookResult{err: fmt.Errorf("hook handler panicked: %v", r)}
			}
		}()
		value, err := entry.Handler(runCtx, data)
		results <- hookResult{value: value, err: err}
	}()

	select {
	case res := <-results:
		return res.value, res.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("hook handler timed out after %s", timeout)
	}
}

// Stats returns a copy of the statistics for a hook name
func (e *HookEngine) Stats(hookName string) HookStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if stats, ok := e.stats[hookName]; ok {
		return *stats
	}
	return HookStats{}
}

func (e *HookEngine) recordResult(hookName string, latency time.Duration, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, ok := e.stats[hookName]
	if !ok {
		stats = &HookStats{}
		e.stats[hookName] = stats
	}
	stats.Total++
	if success {
		stats.Succeeded++
	} else {
		stats.Failed++
	}
	// Rolling average over all recorded executions
	stats.AverageLatency += (latency - stats.AverageLatency) / time.Duration(stats.Total)
}

func removeByPlugin(entries []*HookRegistration, pluginID string) []*HookRegistration {
	filtered := entries[:0]
	for _, entry := range entries {
		if entry.PluginID != pluginID {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
