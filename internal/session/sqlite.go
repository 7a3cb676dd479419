// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps session state in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*State, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}

	snap := Snapshot{PersistentMemory: make(map[string]any)}

	err := s.db.QueryRowContext(ctx,
		`SELECT active_environment FROM session_state WHERE session_id = ?`, sessionID,
	).Scan(&snap.ActiveEnvironment)
	if errors.Is(err, sql.ErrNoRows) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM environment_history WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment history: %w", err)
	}
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			rows.Close()
			return nil, err
		}
		snap.EnvironmentHistory = append(snap.EnvironmentHistory, entry)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT key, value FROM session_memory WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load persistent memory: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("corrupt memory value %q: %w", key, err)
		}
		snap.PersistentMemory[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return FromSnapshot(snap), nil
}

// Persist implements Store. History rows are only ever inserted.
func (s *SQLiteStore) Persist(ctx context.Context, sessionID string, state *State) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	snap := state.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_state (session_id, active_environment, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			active_environment = excluded.active_environment,
			updated_at = excluded.updated_at`,
		sessionID, snap.ActiveEnvironment, now); err != nil {
		return fmt.Errorf("failed to write session row: %w", err)
	}

	for i, entry := range snap.EnvironmentHistory {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO environment_history (session_id, seq, entry) VALUES (?, ?, ?)`,
			sessionID, i, entry); err != nil {
			return fmt.Errorf("failed to append environment history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_memory WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear memory: %w", err)
	}
	keys := make([]string, 0, len(snap.PersistentMemory))
	for k := range snap.PersistentMemory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw, err := json.Marshal(snap.PersistentMemory[k])
		if err != nil {
			return fmt.Errorf("memory value %q is not serialisable: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_memory (session_id, key, value) VALUES (?, ?, ?)`,
			sessionID, k, string(raw)); err != nil {
			return fmt.Errorf("failed to write memory %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sessionID, err)
	}
	state.MarkClean()
	return nil
}

// Reset implements Store.
func (s *SQLiteStore) Reset(ctx context.Context, sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"session_memory", "environment_history", "session_state"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Sessions lists every stored session ID.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM session_state ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// MIGRATIONS
// =============================================================================

type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		out = append(out, migration{version: v, name: f.Name(), sql: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = m.version
	}
	return tx.Commit()
}
