package plugin

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Utils are small helper functions exposed to plugin code
type Utils struct{}

// GenerateID returns a new UUID string
func (Utils) GenerateID() string {
	return uuid.NewString()
}

// ShortID returns a compact URL-safe identifier
func (Utils) ShortID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// Now returns the current time
func (Utils) Now() time.Time {
	return time.Now()
}

// Context is the isolated runtime handle given to exactly one active
// plugin instance: merged config, namespaced storage, namespaced
// events, a plugin-scoped logger and the injected collaborators.
type Context struct {
	PluginID string
	Config   map[string]any
	Logger   zerolog.Logger
	Storage  Storage
	Events   *ScopedEvents
	Utils    Utils

	Auth     AuthHandle
	Database *sql.DB
	Env      map[string]string

	collab    Collaborators
	createdAt time.Time
}

// Collaborators returns the raw injected collaborator handles
func (c *Context) Collaborators() Collaborators {
	return c.collab
}

// CreatedAt returns when the context was built
func (c *Context) CreatedAt() time.Time {
	return c.createdAt
}

// Factory builds one isolated runtime context per active plugin id
type Factory struct {
	logger  zerolog.Logger
	backend StorageBackend
	bus     *EventBus
	collab  Collaborators

	mu       sync.Mutex
	contexts map[string]*Context
}

// NewFactory creates a context factory. The backend and bus are shared
// across plugins; isolation comes from per-plugin namespacing.
func NewFactory(logger zerolog.Logger, backend StorageBackend, bus *EventBus, collab Collaborators) *Factory {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if bus == nil {
		bus = NewEventBus()
	}
	return &Factory{
		logger:   logger.With().Str("component", "context-factory").Logger(),
		backend:  backend,
		bus:      bus,
		collab:   collab,
		contexts: make(map[string]*Context),
	}
}

// Create builds the context for a plugin, deep-merging the descriptor's
// default config with the override. Fails if a live context for that id
// already exists.
func (f *Factory) Create(d *Descriptor, override map[string]any) (*Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.contexts[d.ID]; exists {
		return nil, newError(CodeAlreadyRegistered, d.ID, "create-context", "context already exists")
	}

	pc := &Context{
		PluginID:  d.ID,
		Config:    MergeConfig(d.DefaultConfig, override),
		Logger:    f.logger.With().Str("plugin", d.ID).Logger(),
		Storage:   newScopedStorage(f.backend, d.ID),
		Events:    newScopedEvents(f.bus, d.ID),
		Auth:      f.collab.Auth,
		Database:  f.collab.Database,
		Env:       f.collab.Environment,
		collab:    f.collab,
		createdAt: time.Now(),
	}
	f.contexts[d.ID] = pc

	f.logger.Debug().Str("plugin", d.ID).Msg("Context created")
	return pc, nil
}

// Get returns the live context for a plugin id
func (f *Factory) Get(id string) (*Context, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc, exists := f.contexts[id]
	return pc, exists
}

// Destroy tears a context down: storage namespace cleared, event
// listeners removed, context dropped from the live map.
func (f *Factory) Destroy(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pc, exists := f.contexts[id]
	if !exists {
		return newError(CodeNotFound, id, "destroy-context", "no live context")
	}

	pc.Storage.Clear()
	f.bus.RemovePrefix("plugin:" + id + ":")
	delete(f.contexts, id)

	f.logger.Debug().Str("plugin", id).Msg("Context destroyed")
	return nil
}

// Count returns the number of live contexts
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contexts)
}

// MergeConfig deep-merges override into base. Nested maps merge
// field-by-field recursively; arrays and scalars are replaced
// wholesale, never concatenated. Neither input is mutated.
func MergeConfig(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		merged[key] = cloneValue(value)
	}
	for key, value := range override {
		baseMap, baseIsMap := merged[key].(map[string]any)
		overrideMap, overrideIsMap := value.(map[string]any)
		if baseIsMap && overrideIsMap {
			merged[key] = MergeConfig(baseMap, overrideMap)
			continue
		}
		merged[key] = cloneValue(value)
	}
	return merged
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(v))
		for key, inner := range v {
			clone[key] = cloneValue(inner)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for i, inner := range v {
			clone[i] = cloneValue(inner)
		}
		return clone
	default:
		return v
	}
}
