package plugin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const patternCacheSize = 256

// MiddlewareRegistration is one (pluginId, name) middleware entry.
// An empty Path makes the entry global.
type MiddlewareRegistration struct {
	PluginID string
	Name     string
	Path     string
	Methods  []string
	Priority int
	Enabled  bool
	Handler  MiddlewareHandler

	seq uint64
}

// MiddlewareEngine holds path/method-scoped chain-of-responsibility
// handlers. Unlike hooks, a middleware failure is fatal to its chain.
// The engine reads plugin activity from the registry, never mutates it.
type MiddlewareEngine struct {
	logger   zerolog.Logger
	registry *Registry

	mu      sync.RWMutex
	entries []*MiddlewareRegistration
	nextSeq uint64

	patterns *lru.Cache[string, *regexp.Regexp]
}

// NewMiddlewareEngine creates a middleware engine
func NewMiddlewareEngine(logger zerolog.Logger, registry *Registry) *MiddlewareEngine {
	patterns, _ := lru.New[string, *regexp.Regexp](patternCacheSize)
	return &MiddlewareEngine{
		logger:   logger.With().Str("component", "middleware-engine").Logger(),
		registry: registry,
		patterns: patterns,
	}
}

// Register adds (or replaces) a plugin's middleware entries. Entries
// are keyed by (pluginId, name); re-registration replaces.
func (e *MiddlewareEngine) Register(pluginID string, specs []MiddlewareSpec) error {
	for _, spec := range specs {
		if spec.Name == "" {
			return newError(CodeMiddlewareError, pluginID, "register-middleware", "middleware name is required")
		}
		if spec.Handler == nil {
			return newError(CodeMiddlewareError, pluginID, "register-middleware",
				fmt.Sprintf("middleware %q: handler is required", spec.Name))
		}
		if spec.Path != "" {
			if _, err := e.compilePattern(spec.Path); err != nil {
				return wrapError(CodeMiddlewareError, pluginID, "register-middleware", err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, spec := range specs {
		entry := &MiddlewareRegistration{
			PluginID: pluginID,
			Name:     spec.Name,
			Path:     spec.Path,
			Methods:  append([]string(nil), spec.Methods...),
			Priority: spec.Priority,
			Enabled:  true,
			Handler:  spec.Handler,
		}

		replaced := false
		for i, existing := range e.entries {
			if existing.PluginID == pluginID && existing.Name == spec.Name {
				entry.seq = existing.seq
				e.entries[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			e.nextSeq++
			entry.seq = e.nextSeq
			e.entries = append(e.entries, entry)
		}

		e.logger.Debug().
			Str("plugin", pluginID).
			Str("middleware", spec.Name).
			Str("path", spec.Path).
			Msg("Middleware registered")
	}

	return nil
}

// UnregisterPlugin removes every middleware entry for a plugin and
// returns the removed names
func (e *MiddlewareEngine) UnregisterPlugin(pluginID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var removed []string
	filtered := e.entries[:0]
	for _, entry := range e.entries {
		if entry.PluginID == pluginID {
			removed = append(removed, entry.Name)
			continue
		}
		filtered = append(filtered, entry)
	}
	e.entries = filtered
	sort.Strings(removed)
	return removed
}

// SetEnabled toggles one entry without removing it
func (e *MiddlewareEngine) SetEnabled(pluginID, name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.entries {
		if entry.PluginID == pluginID && entry.Name == name {
			entry.Enabled = enabled
			return nil
		}
	}
	return newError(CodeNotFound, pluginID, "set-middleware-enabled",
		fmt.Sprintf("no middleware named %q", name))
}

// ForRequest returns the chain for a path and method: global entries
// plus path-matching ones, enabled and belonging to active plugins,
// sorted descending by priority (stable on ties).
func (e *MiddlewareEngine) ForRequest(path, method string) []*MiddlewareRegistration {
	e.mu.RLock()
	candidates := append([]*MiddlewareRegistration(nil), e.entries...)
	e.mu.RUnlock()

	var chain []*MiddlewareRegistration
	for _, entry := range candidates {
		if !entry.Enabled {
			continue
		}
		if !e.registry.IsActive(entry.PluginID) {
			continue
		}
		if !methodAllowed(entry.Methods, method) {
			continue
		}
		if entry.Path != "" && !e.matchPath(entry.Path, path) {
			continue
		}
		chain = append(chain, entry)
	}

	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].Priority != chain[j].Priority {
			return chain[i].Priority > chain[j].Priority
		}
		return chain[i].seq < chain[j].seq
	})

	return chain
}

// Execute runs a middleware chain over a request/response pair. Each
// handler must call its continuation to proceed; omitting the call
// halts the chain. A handler error aborts the remaining chain and is
// returned as MiddlewareError.
func (e *MiddlewareEngine) Execute(ctx context.Context, chain []*MiddlewareRegistration, req *Request, res *Response) error {
	var run func(ctx context.Context, index int) error
	run = func(ctx context.Context, index int) error {
		if index >= len(chain) {
			return nil
		}
		entry := chain[index]
		next := func(nextCtx context.Context) error {
			return run(nextCtx, index+1)
		}
		if err := entry.Handler(ctx, req, res, next); err != nil {
			var pe *Error
			if errors.As(err, &pe) {
				return err
			}
			return wrapError(CodeMiddlewareError, entry.PluginID, "execute-middleware:"+entry.Name, err)
		}
		return nil
	}
	return run(ctx, 0)
}

// matchPath evaluates a glob pattern against a request path. Compiled
// patterns are cached in an LRU.
func (e *MiddlewareEngine) matchPath(pattern, path string) bool {
	re, err := e.compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

// compilePattern converts a glob pattern to an anchored regexp.
// `**` matches across path segments, `*` matches within one segment.
func (e *MiddlewareEngine) compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.patterns.Get(pattern); ok {
		return re, nil
	}

	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*\*`, `§§`)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^/]*`)
	escaped = strings.ReplaceAll(escaped, `§§`, `.*`)

	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
	}
	e.patterns.Add(pattern, re)
	return re, nil
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
