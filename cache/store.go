// Package cache persists parse products keyed by (path, content checksum)
// so repeated dependency scans skip unchanged files. Backed by SQLite under
// the workspace config directory; the config cache block gates it entirely.
package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/workspace"
)

// Store is a content-addressed cache. A nil *Store is valid and caches
// nothing, which is how a disabled cache block is represented.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	maxLen int64
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	path       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (path, kind)
);
CREATE INDEX IF NOT EXISTS entries_created ON entries (created_at);
`

// Open creates or opens the cache database for a workspace. Returns nil when
// the cache is disabled.
func Open(root *workspace.Root, cfg config.CacheConfig, logger *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(root.Path(), config.ConfigDirs[0])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache schema: %w", err)
	}
	s := &Store{
		db:     db,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		maxLen: cfg.MaxSizeBytes,
		logger: logger.With("component", "cache"),
	}
	return s, nil
}

// Get returns the payload for (path, kind) when the stored checksum matches
// and the entry is inside its TTL.
func (s *Store) Get(path, kind, checksum string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	var payload []byte
	var stored string
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT checksum, payload, created_at FROM entries WHERE path = ? AND kind = ?`,
		path, kind,
	).Scan(&stored, &payload, &createdAt)
	if err != nil {
		return nil, false
	}
	if stored != checksum {
		return nil, false
	}
	if s.ttl > 0 && time.Since(time.Unix(createdAt, 0)) > s.ttl {
		return nil, false
	}
	return payload, true
}

// Put stores a payload, replacing any previous entry for (path, kind), then
// enforces the size cap.
func (s *Store) Put(path, kind, checksum string, payload []byte) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO entries (path, kind, checksum, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		path, kind, checksum, payload, time.Now().Unix(),
	)
	if err != nil {
		s.logger.Warn("cache write failed", "path", path, "error", err)
		return
	}
	s.enforceSize()
}

// Invalidate drops every entry for the given paths.
func (s *Store) Invalidate(paths ...string) {
	if s == nil {
		return
	}
	for _, p := range paths {
		if _, err := s.db.Exec(`DELETE FROM entries WHERE path = ?`, p); err != nil {
			s.logger.Warn("cache invalidate failed", "path", p, "error", err)
		}
	}
}

// HandleChanges invalidates changed paths; subscribe it to the workspace bus.
func (s *Store) HandleChanges(changes []workspace.FileChange) {
	if s == nil {
		return
	}
	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	s.Invalidate(paths...)
}

// enforceSize evicts oldest entries while the payload total exceeds the cap.
func (s *Store) enforceSize() {
	if s.maxLen <= 0 {
		return
	}
	var total int64
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM entries`).Scan(&total); err != nil {
		return
	}
	for total > s.maxLen {
		var path, kind string
		var size int64
		err := s.db.QueryRow(
			`SELECT path, kind, LENGTH(payload) FROM entries ORDER BY created_at ASC, path ASC LIMIT 1`,
		).Scan(&path, &kind, &size)
		if err != nil {
			return
		}
		if _, err := s.db.Exec(`DELETE FROM entries WHERE path = ? AND kind = ?`, path, kind); err != nil {
			return
		}
		total -= size
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
