// Package store persists ConsumerSession queue/playback state across
// disconnects in a sqlite table keyed by consumer id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"audiorelay/internal/orchestrator"
)

// SQLiteStore implements orchestrator.Store over a pure-Go sqlite driver,
// opened WAL-mode per the pack's desktop-app storage layer pattern.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or reuses) consumer_sessions.db under dataDir.
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "consumer_sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS consumer_sessions (
			consumer_id       TEXT PRIMARY KEY,
			username          TEXT,
			avatar            TEXT,
			queue_json        TEXT NOT NULL,
			current_index     INTEGER NOT NULL,
			is_paused         INTEGER NOT NULL,
			playback_offset   REAL NOT NULL,
			updated_at        TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts the consumer's persisted playback state.
func (s *SQLiteStore) Save(ctx context.Context, state orchestrator.PersistedState) error {
	queueJSON, err := json.Marshal(state.Queue.Tracks)
	if err != nil {
		return fmt.Errorf("store: marshal queue: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consumer_sessions (consumer_id, queue_json, current_index, is_paused, playback_offset, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(consumer_id) DO UPDATE SET
			queue_json = excluded.queue_json,
			current_index = excluded.current_index,
			is_paused = excluded.is_paused,
			playback_offset = excluded.playback_offset,
			updated_at = excluded.updated_at
	`, state.ConsumerID, string(queueJSON), state.Queue.CurrentIndex, boolToInt(state.IsPaused), state.PlaybackOffsetSec, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: save %s: %w", state.ConsumerID, err)
	}
	return nil
}

// Load reads the persisted state for consumerID, reporting found=false if
// no row exists yet.
func (s *SQLiteStore) Load(ctx context.Context, consumerID string) (orchestrator.PersistedState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT queue_json, current_index, is_paused, playback_offset
		FROM consumer_sessions WHERE consumer_id = ?
	`, consumerID)

	var queueJSON string
	var currentIndex int
	var isPaused int
	var offset float64
	if err := row.Scan(&queueJSON, &currentIndex, &isPaused, &offset); err != nil {
		if err == sql.ErrNoRows {
			return orchestrator.PersistedState{}, false, nil
		}
		return orchestrator.PersistedState{}, false, fmt.Errorf("store: load %s: %w", consumerID, err)
	}

	var tracks []orchestrator.Track
	if err := json.Unmarshal([]byte(queueJSON), &tracks); err != nil {
		return orchestrator.PersistedState{}, false, fmt.Errorf("store: decode queue for %s: %w", consumerID, err)
	}

	return orchestrator.PersistedState{
		ConsumerID:        consumerID,
		Queue:             orchestrator.Queue{Tracks: tracks, CurrentIndex: currentIndex},
		IsPaused:          isPaused != 0,
		PlaybackOffsetSec: offset,
	}, true, nil
}

// Delete removes the persisted record for consumerID, used by resetSession.
func (s *SQLiteStore) Delete(ctx context.Context, consumerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM consumer_sessions WHERE consumer_id = ?`, consumerID)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", consumerID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
