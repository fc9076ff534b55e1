package plugin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend persists context storage in a SQLite database so
// plugin state survives host restarts. TTL expiry stays lazy, matching
// the memory backend.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) a SQLite-backed storage backend
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS plugin_storage (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create storage table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Close closes the underlying database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Get retrieves a value, deleting it first if its TTL has passed
func (b *SQLiteBackend) Get(key string) (any, bool) {
	var (
		raw       string
		expiresAt int64
	)
	err := b.db.QueryRow(
		`SELECT value, expires_at FROM plugin_storage WHERE key = ?`, key,
	).Scan(&raw, &expiresAt)
	if err != nil {
		return nil, false
	}

	if expiresAt > 0 && time.Now().UnixMilli() > expiresAt {
		_, _ = b.db.Exec(`DELETE FROM plugin_storage WHERE key = ?`, key)
		return nil, false
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false
	}
	return value, true
}

// Set stores a value. A zero ttl means the key never expires.
func (b *SQLiteBackend) Set(key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	_, _ = b.db.Exec(
		`INSERT INTO plugin_storage (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, string(raw), expiresAt,
	)
}

// Delete removes a key
func (b *SQLiteBackend) Delete(key string) {
	_, _ = b.db.Exec(`DELETE FROM plugin_storage WHERE key = ?`, key)
}

// Keys returns the unexpired keys under a prefix
func (b *SQLiteBackend) Keys(prefix string) []string {
	rows, err := b.db.Query(
		`SELECT key, expires_at FROM plugin_storage WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	now := time.Now().UnixMilli()
	var keys []string
	for rows.Next() {
		var (
			key       string
			expiresAt int64
		)
		if err := rows.Scan(&key, &expiresAt); err != nil {
			continue
		}
		if expiresAt > 0 && now > expiresAt {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// ClearPrefix removes every key under a prefix
func (b *SQLiteBackend) ClearPrefix(prefix string) {
	_, _ = b.db.Exec(
		`DELETE FROM plugin_storage WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
}

// escapeLike escapes LIKE metacharacters in a literal prefix. The
// escape character goes first so existing backslashes are not turned
// into escapes.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
