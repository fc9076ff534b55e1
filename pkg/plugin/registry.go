package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Filter selects plugins from a registry snapshot
type Filter struct {
	Type       Type
	Status     Status
	Enabled    *bool
	Search     string
	Tags       []string
	Categories []string
}

// Registry owns plugin registration records, status and the dependency
// graph over registered ids. Only the registry and the manager mutate
// records; the hook and middleware engines read activity state only.
type Registry struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty plugin registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "plugin-registry").Logger(),
		records: make(map[string]*Record),
	}
}

// Register stores a new registration record with status inactive.
// Descriptors that request auto-enable go straight to active.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[d.ID]; exists {
		return newError(CodeAlreadyRegistered, d.ID, "register", "plugin already registered")
	}

	now := time.Now()
	record := &Record{
		Descriptor:   d,
		Status:       StatusInactive,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if d.AutoEnable {
		record.Status = StatusActive
		record.Enabled = true
	}
	r.records[d.ID] = record

	r.logger.Debug().
		Str("plugin", d.ID).
		Str("version", d.Version).
		Bool("enabled", record.Enabled).
		Msg("Plugin registered")

	return nil
}

// Unregister removes a registration record. The caller must have
// disabled the plugin first.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return newError(CodeNotFound, id, "unregister", "plugin not registered")
	}
	if record.Enabled {
		return newError(CodeRegistryError, id, "unregister", "plugin must be disabled before unregistering")
	}

	delete(r.records, id)
	r.logger.Debug().Str("plugin", id).Msg("Plugin unregistered")
	return nil
}

// Get retrieves a registration record by id
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, exists := r.records[id]
	return record, exists
}

// Has reports whether a plugin id is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.records[id]
	return exists
}

// IsActive reports whether a plugin is registered, enabled and active.
// The hook and middleware engines use this read-only check.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, exists := r.records[id]
	return exists && record.Enabled && record.Status == StatusActive
}

// SetStatus updates a plugin's status
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return newError(CodeNotFound, id, "set-status", "plugin not registered")
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	return nil
}

// Enable marks a plugin enabled and active
func (r *Registry) Enable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return newError(CodeNotFound, id, "enable", "plugin not registered")
	}
	if record.Status == StatusError {
		return newError(CodeRegistryError, id, "enable", "plugin is in error state; re-register to recover")
	}
	record.Enabled = true
	record.Status = StatusActive
	record.UpdatedAt = time.Now()

	r.logger.Debug().Str("plugin", id).Msg("Plugin enabled")
	return nil
}

// Disable marks a plugin disabled
func (r *Registry) Disable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return newError(CodeNotFound, id, "disable", "plugin not registered")
	}
	record.Enabled = false
	record.Status = StatusDisabled
	record.UpdatedAt = time.Now()

	r.logger.Debug().Str("plugin", id).Msg("Plugin disabled")
	return nil
}

// List returns a filtered snapshot of registration records, sorted by
// descending priority weight. Ties keep registration order.
func (r *Registry) List(filter Filter) []*Record {
	r.mu.RLock()
	records := make([]*Record, 0, len(r.records))
	for _, record := range r.records {
		if matchesFilter(record, filter) {
			records = append(records, record)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		wi := records[i].Descriptor.Priority.Weight()
		wj := records[j].Descriptor.Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return records[i].RegisteredAt.Before(records[j].RegisteredAt)
	})

	return records
}

// ResolveDependencies walks dependencies depth-first and returns the
// transitive dependency set of id in topological order (dependencies
// before dependents), excluding id itself. Cycles raise
// CircularDependency with the full chain; missing dependencies raise
// DependencyNotFound; unsatisfied constraints raise IncompatibleVersion.
func (r *Registry) ResolveDependencies(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, exists := r.records[id]
	if !exists {
		return nil, newError(CodeNotFound, id, "resolve", "plugin not registered")
	}

	var (
		order    []string
		visiting = make(map[string]bool)
		visited  = make(map[string]bool)
		chain    []string
	)

	var visit func(d *Descriptor) error
	visit = func(d *Descriptor) error {
		visiting[d.ID] = true
		chain = append(chain, d.ID)

		for _, dep := range d.Dependencies {
			if visiting[dep.ID] {
				cycle := append(append([]string{}, chain...), dep.ID)
				return newError(CodeCircularDependency, id, "resolve",
					fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
			}
			if visited[dep.ID] {
				continue
			}

			depRecord, ok := r.records[dep.ID]
			if !ok {
				return newError(CodeDependencyNotFound, id, "resolve",
					fmt.Sprintf("dependency %s of %s is not registered", dep.ID, d.ID))
			}
			if err := CheckVersionConstraint(depRecord.Descriptor.Version, dep.Version); err != nil {
				return wrapError(CodeIncompatibleVersion, id, "resolve", err)
			}

			if err := visit(depRecord.Descriptor); err != nil {
				return err
			}
		}

		chain = chain[:len(chain)-1]
		visiting[d.ID] = false
		visited[d.ID] = true
		if d.ID != id {
			order = append(order, d.ID)
		}
		return nil
	}

	if err := visit(root.Descriptor); err != nil {
		return nil, err
	}

	// Peer dependencies are checked for presence and compatibility but
	// do not contribute to load order.
	for _, peer := range root.Descriptor.PeerDependencies {
		peerRecord, ok := r.records[peer.ID]
		if !ok {
			return nil, newError(CodeDependencyNotFound, id, "resolve",
				fmt.Sprintf("peer dependency %s is not registered", peer.ID))
		}
		if err := CheckVersionConstraint(peerRecord.Descriptor.Version, peer.Version); err != nil {
			return nil, wrapError(CodeIncompatibleVersion, id, "resolve", err)
		}
	}

	return order, nil
}

// Dependents returns the ids of registered plugins that declare a
// direct dependency on id
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var dependents []string
	for otherID, record := range r.records {
		for _, dep := range record.Descriptor.Dependencies {
			if dep.ID == id {
				dependents = append(dependents, otherID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

func matchesFilter(record *Record, filter Filter) bool {
	d := record.Descriptor

	if filter.Type != "" && d.Type != filter.Type {
		return false
	}
	if filter.Status != "" && record.Status != filter.Status {
		return false
	}
	if filter.Enabled != nil && record.Enabled != *filter.Enabled {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(d.ID), needle) &&
			!strings.Contains(strings.ToLower(d.Name), needle) &&
			!strings.Contains(strings.ToLower(d.Description), needle) {
			return false
		}
	}
	for _, tag := range filter.Tags {
		if !containsString(d.Tags, tag) {
			return false
		}
	}
	for _, category := range filter.Categories {
		if !containsString(d.Categories, category) {
			return false
		}
	}
	return true
}

func containsString(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}
