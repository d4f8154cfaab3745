// Package memory implements the persistent behavioral ledger: users,
// profiles, pattern observations with decay-weighted read paths, trait
// hypotheses, the dialogue transcript, and session analyses. Backed by
// SQLite; one logical conversation per user writes sequentially, while
// different users may be served concurrently.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cothink/internal/logging"
)

// Store is the SQLite-backed pattern store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewStore opens (or creates) the database at path. Use ":memory:" for
// tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable sqlite foreign_keys: %v", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("pattern store ready at %s", path)
	return store, nil
}

// DB exposes the underlying handle so sibling stores (the recall index)
// can share the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_key TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id INTEGER PRIMARY KEY REFERENCES users(id),
			display_name TEXT NOT NULL DEFAULT '',
			last_session_summary TEXT NOT NULL DEFAULT '',
			last_tone TEXT NOT NULL DEFAULT '',
			last_style TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			justification TEXT NOT NULL DEFAULT '',
			observed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_user_kind
			ON pattern_observations(user_id, kind)`,
		`CREATE TABLE IF NOT EXISTS traits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'hypothesis',
			confirmation_count INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, description)
		)`,
		`CREATE TABLE IF NOT EXISTS dialogue_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			is_user INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_user ON dialogue_turns(user_id)`,
		`CREATE TABLE IF NOT EXISTS session_analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			summary TEXT NOT NULL,
			key_topics TEXT NOT NULL DEFAULT '[]',
			identified_patterns TEXT NOT NULL DEFAULT '[]',
			ended_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// EnsureUser creates the user and its profile on first contact and
// returns the internal id. Users are never deleted.
func (s *Store) EnsureUser(userKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureUserLocked(userKey)
}

func (s *Store) ensureUserLocked(userKey string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM users WHERE user_key = ?", userKey).Scan(&id)
	if err == nil {
		// Profile existence is guaranteed before any field read.
		_, _ = s.db.Exec("INSERT OR IGNORE INTO profiles (user_id) VALUES (?)", id)
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("user lookup failed: %w", err)
	}

	res, err := s.db.Exec(
		"INSERT INTO users (user_key, created_at) VALUES (?, ?)",
		userKey, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("user create failed: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec("INSERT OR IGNORE INTO profiles (user_id) VALUES (?)", id); err != nil {
		return 0, fmt.Errorf("profile create failed: %w", err)
	}

	logging.Store("created user %q (id=%d)", userKey, id)
	return id, nil
}

// ResetUser deletes all memory for one user except the user row itself.
// Backs the full-reset command.
func (s *Store) ResetUser(userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("reset begin failed: %w", err)
	}
	for _, stmt := range []string{
		"DELETE FROM pattern_observations WHERE user_id = ?",
		"DELETE FROM traits WHERE user_id = ?",
		"DELETE FROM dialogue_turns WHERE user_id = ?",
		"DELETE FROM session_analyses WHERE user_id = ?",
		"UPDATE profiles SET display_name = '', last_session_summary = '', last_tone = '', last_style = '' WHERE user_id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("reset failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset commit failed: %w", err)
	}

	logging.Store("reset all memory for user %q", userKey)
	return nil
}

// parseTime decodes stored RFC3339 timestamps, tolerating legacy
// second-precision values.
func parseTime(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}
