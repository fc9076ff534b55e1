package plugin

import (
	"strings"
	"sync"
	"time"
)

// Storage is the namespaced key/value store handed to plugin contexts.
// Keys support an optional TTL, expired lazily on read.
type Storage interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Exists(key string) bool
	Keys() []string
	Clear()
}

// StorageBackend is the shared store behind every namespaced view.
// The memory backend is the default; a SQLite backend is available for
// hosts that want plugin state to survive restarts.
type StorageBackend interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Keys(prefix string) []string
	ClearPrefix(prefix string)
}

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryBackend is an in-process storage backend with lazy TTL expiry
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryBackend creates an empty in-memory storage backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

// Get retrieves a value, expiring it first if its TTL has passed
func (b *MemoryBackend) Get(key string) (any, bool) {
	b.mu.RLock()
	entry, exists := b.entries[key]
	b.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		b.mu.Lock()
		// Re-check under the write lock in case of a concurrent Set
		if current, ok := b.entries[key]; ok && !current.expiresAt.IsZero() && time.Now().After(current.expiresAt) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set stores a value. A zero ttl means the key never expires.
func (b *MemoryBackend) Set(key string, value any, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()
}

// Delete removes a key
func (b *MemoryBackend) Delete(key string) {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

// Keys returns the unexpired keys under a prefix
func (b *MemoryBackend) Keys(prefix string) []string {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key, entry := range b.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// ClearPrefix removes every key under a prefix
func (b *MemoryBackend) ClearPrefix(prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			delete(b.entries, key)
		}
	}
}

// scopedStorage is the per-plugin namespaced view over a backend
type scopedStorage struct {
	backend StorageBackend
	prefix  string
}

func newScopedStorage(backend StorageBackend, pluginID string) *scopedStorage {
	return &scopedStorage{backend: backend, prefix: pluginID + ":"}
}

func (s *scopedStorage) Get(key string) (any, bool) {
	return s.backend.Get(s.prefix + key)
}

func (s *scopedStorage) Set(key string, value any, ttl time.Duration) {
	s.backend.Set(s.prefix+key, value, ttl)
}

func (s *scopedStorage) Delete(key string) {
	s.backend.Delete(s.prefix + key)
}

func (s *scopedStorage) Exists(key string) bool {
	_, ok := s.backend.Get(s.prefix + key)
	return ok
}

func (s *scopedStorage) Keys() []string {
	raw := s.backend.Keys(s.prefix)
	keys := make([]string, 0, len(raw))
	for _, key := range raw {
		keys = append(keys, strings.TrimPrefix(key, s.prefix))
	}
	return keys
}

func (s *scopedStorage) Clear() {
	s.backend.ClearPrefix(s.prefix)
}
