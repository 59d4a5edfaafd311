// Package store persists user sync state in SQLite and provides the
// per-user mutual-exclusion lease every state mutation runs under.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sshz/workbin-syncer/pkg/models"
)

// Store represents the user database.
type Store struct {
	db *sql.DB
}

// Open connects to the database at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			source_token TEXT NOT NULL DEFAULT '',
			modules TEXT NOT NULL DEFAULT '[]',
			enabled INTEGER NOT NULL DEFAULT 0,
			uploadable_only INTEGER NOT NULL DEFAULT 0,
			target TEXT NOT NULL DEFAULT '',
			last_target TEXT NOT NULL DEFAULT '',
			target_settings TEXT NOT NULL DEFAULT '{}',
			synced_files TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_enabled ON users(enabled);
		CREATE TABLE IF NOT EXISTS user_locks (
			user_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA busy_timeout=5000;
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetUser retrieves a user record, lazily creating a disabled empty record
// on first reference.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.getUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := &models.User{
		ID:          id,
		SyncedFiles: map[string]bool{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.PutUser(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Store) getUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u                         models.User
		modules, settings, synced string
		enabled, uploadableOnly   int
		createdAt, updatedAt      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, source_token, modules, enabled, uploadable_only,
		       target, last_target, target_settings, synced_files, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(
		&u.ID, &u.Email, &u.SourceToken, &modules, &enabled, &uploadableOnly,
		&u.Target, &u.LastTarget, &settings, &synced, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Enabled = enabled != 0
	u.UploadableFolderOnly = uploadableOnly != 0
	if err := json.Unmarshal([]byte(modules), &u.Modules); err != nil {
		return nil, fmt.Errorf("decode modules for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(settings), &u.TargetSettings); err != nil {
		return nil, fmt.Errorf("decode target settings for %s: %w", id, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(synced), &ids); err != nil {
		return nil, fmt.Errorf("decode synced files for %s: %w", id, err)
	}
	u.SyncedFiles = make(map[string]bool, len(ids))
	for _, fid := range ids {
		u.SyncedFiles[fid] = true
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &u, nil
}

// PutUser writes a user record, replacing any existing row.
func (s *Store) PutUser(ctx context.Context, u *models.User) error {
	modules := u.Modules
	if modules == nil {
		modules = []models.Module{}
	}
	modulesJSON, err := json.Marshal(modules)
	if err != nil {
		return fmt.Errorf("encode modules: %w", err)
	}
	settingsJSON, err := json.Marshal(u.TargetSettings)
	if err != nil {
		return fmt.Errorf("encode target settings: %w", err)
	}
	ids := make([]string, 0, len(u.SyncedFiles))
	for fid := range u.SyncedFiles {
		ids = append(ids, fid)
	}
	syncedJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode synced files: %w", err)
	}

	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO users (
			id, email, source_token, modules, enabled, uploadable_only,
			target, last_target, target_settings, synced_files, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.Email, u.SourceToken, string(modulesJSON),
		boolInt(u.Enabled), boolInt(u.UploadableFolderOnly),
		u.Target, u.LastTarget, string(settingsJSON), string(syncedJSON),
		u.CreatedAt.Format(time.RFC3339Nano), u.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// ListEnabledUsers returns the ids of all users the scheduler should scan.
// A full table walk is acceptable at current scale; the index keeps the door
// open for an indexed view later.
func (s *Store) ListEnabledUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE enabled = 1 ORDER BY id`)
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

// Stats returns a summary of one user's sync state.
func (s *Store) Stats(ctx context.Context, id string) (*models.Stats, error) {
	u, err := s.getUser(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s not found", id)
		}
		return nil, err
	}
	return &models.Stats{
		UserID:      u.ID,
		Email:       u.Email,
		Enabled:     u.Enabled,
		Target:      u.Target,
		LastTarget:  u.LastTarget,
		Modules:     len(u.Modules),
		SyncedFiles: len(u.SyncedFiles),
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
