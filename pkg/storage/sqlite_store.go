package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Action names a recorded configuration write.
type Action string

const (
	ActionConfigSaved  Action = "config_saved"
	ActionImageUpload  Action = "image_uploaded"
	ActionPreviewSaved Action = "preview_saved"
)

// Source names the view that performed a write.
type Source string

const (
	SourceRawEditor      Source = "raw_editor"
	SourceSettingsEditor Source = "settings_editor"
)

// ChangeRecord is one successful write performed through the dashboard.
type ChangeRecord struct {
	ID        int64
	GuildID   string
	Action    Action
	Source    Source
	SessionID string
	Image     string
	At        time.Time
}

// Store wraps an embedded SQLite database holding the dashboard's audit trail of
// configuration writes. It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA synchronous=NORMAL;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordChange appends a change record. A zero At is stamped with the current time.
func (s *Store) RecordChange(ctx context.Context, rec ChangeRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if strings.TrimSpace(rec.GuildID) == "" {
		return fmt.Errorf("change record without guild id")
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_changes (guild_id, action, source, session_id, image, changed_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.GuildID, string(rec.Action), string(rec.Source), rec.SessionID, rec.Image, rec.At.UTC(),
	)
	return err
}

// RecentChanges returns up to limit records for a guild, newest first.
func (s *Store) RecentChanges(ctx context.Context, guildID string, limit int) ([]ChangeRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, action, source, session_id, image, changed_at
         FROM config_changes
         WHERE guild_id=?
         ORDER BY changed_at DESC, id DESC
         LIMIT ?`,
		guildID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		var action, source string
		if err := rows.Scan(&rec.ID, &rec.GuildID, &action, &source, &rec.SessionID, &rec.Image, &rec.At); err != nil {
			return nil, err
		}
		rec.Action = Action(action)
		rec.Source = Source(source)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneChangesBefore deletes records older than cutoff and returns how many were removed.
func (s *Store) PruneChangesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_changes WHERE changed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ensureSchema(db *sql.DB) error {
	const createConfigChanges = `
CREATE TABLE IF NOT EXISTS config_changes (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  guild_id   TEXT NOT NULL,
  action     TEXT NOT NULL,
  source     TEXT NOT NULL,
  session_id TEXT NOT NULL DEFAULT '',
  image      TEXT NOT NULL DEFAULT '',
  changed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_config_changes_guild ON config_changes(guild_id, changed_at);`

	if _, err := db.Exec(createConfigChanges); err != nil {
		return fmt.Errorf("create config_changes: %w", err)
	}
	return nil
}
