// Package store persists per-channel bridge state in SQLite so continuation
// ids and channel settings survive restarts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no state exists for the channel.
var ErrNotFound = errors.New("store: channel not found")

const schema = `
CREATE TABLE IF NOT EXISTS channel_state (
	channel         TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	permission_mode TEXT NOT NULL DEFAULT '',
	workdir         TEXT NOT NULL DEFAULT '',
	updated_at      INTEGER NOT NULL
);
`

// ChannelState is the persisted record for one channel.
type ChannelState struct {
	Channel        string
	SessionID      string
	Provider       string
	Model          string
	PermissionMode string
	WorkDir        string
	UpdatedAt      time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path and applies the
// schema. The parent directory is created with private permissions; channel
// state can reference private working directories and prompts.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; WAL lets reads proceed alongside it.
	db.SetMaxOpenConns(4)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the state for channel, or ErrNotFound.
func (s *Store) Get(channel string) (ChannelState, error) {
	var st ChannelState
	var updated int64
	err := s.db.QueryRow(`
		SELECT channel, session_id, provider, model, permission_mode, workdir, updated_at
		FROM channel_state WHERE channel = ?`, channel).
		Scan(&st.Channel, &st.SessionID, &st.Provider, &st.Model, &st.PermissionMode, &st.WorkDir, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelState{}, ErrNotFound
	}
	if err != nil {
		return ChannelState{}, fmt.Errorf("get channel state: %w", err)
	}
	st.UpdatedAt = time.Unix(updated, 0).UTC()
	return st, nil
}

// Save upserts the full state for a channel.
func (s *Store) Save(st ChannelState) error {
	_, err := s.db.Exec(`
		INSERT INTO channel_state (channel, session_id, provider, model, permission_mode, workdir, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			session_id      = excluded.session_id,
			provider        = excluded.provider,
			model           = excluded.model,
			permission_mode = excluded.permission_mode,
			workdir         = excluded.workdir,
			updated_at      = excluded.updated_at`,
		st.Channel, st.SessionID, st.Provider, st.Model, st.PermissionMode, st.WorkDir, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save channel state: %w", err)
	}
	return nil
}

// SetSessionID upserts only the continuation id for a channel, preserving any
// other stored settings.
func (s *Store) SetSessionID(channel, sessionID string) error {
	_, err := s.db.Exec(`
		INSERT INTO channel_state (channel, session_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		channel, sessionID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set session id: %w", err)
	}
	return nil
}

// Delete removes the channel's state. Deleting an absent channel is a no-op.
func (s *Store) Delete(channel string) error {
	if _, err := s.db.Exec(`DELETE FROM channel_state WHERE channel = ?`, channel); err != nil {
		return fmt.Errorf("delete channel state: %w", err)
	}
	return nil
}

// List returns all channel states ordered by channel.
func (s *Store) List() ([]ChannelState, error) {
	rows, err := s.db.Query(`
		SELECT channel, session_id, provider, model, permission_mode, workdir, updated_at
		FROM channel_state ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("list channel state: %w", err)
	}
	defer rows.Close()

	var out []ChannelState
	for rows.Next() {
		var st ChannelState
		var updated int64
		if err := rows.Scan(&st.Channel, &st.SessionID, &st.Provider, &st.Model, &st.PermissionMode, &st.WorkDir, &updated); err != nil {
			return nil, fmt.Errorf("scan channel state: %w", err)
		}
		st.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

// Purge deletes channel state not updated within the retention window and
// reports how many rows were removed.
func (s *Store) Purge(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.Exec(`DELETE FROM channel_state WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge channel state: %w", err)
	}
	return res.RowsAffected()
}
