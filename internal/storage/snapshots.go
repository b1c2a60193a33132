// Package storage persists engine state across restarts. Attention levels
// and cooldown entries are written as whole-table snapshots; everything
// else the engine tracks is short-lived enough to rebuild from live
// traffic.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ssergorp/menagerie/internal/attention"
	"github.com/ssergorp/menagerie/internal/backoff"
	"github.com/ssergorp/menagerie/internal/cooldown"
)

// SnapshotStore holds engine snapshots in a SQLite database using the
// CGO-free modernc driver.
type SnapshotStore struct {
	db *sql.DB

	mu       sync.Mutex
	degraded bool
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS attention_levels (
	channel_id TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	level      REAL NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (channel_id, agent_id)
);
CREATE TABLE IF NOT EXISTS cooldown_entries (
	agent_id      TEXT NOT NULL,
	channel_id    TEXT NOT NULL,
	responded_at  INTEGER NOT NULL,
	bot_triggered INTEGER NOT NULL,
	PRIMARY KEY (agent_id, channel_id)
);
`

// Open opens (and if needed creates) the snapshot database at path.
func Open(path string) (*SnapshotStore, error) {
	if path == "" {
		return nil, errors.New("storage: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// modernc sqlite is single-writer; cap the pool to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Probe pings the database, retrying transient failures under the given
// policy before reporting the store unhealthy. The outcome is remembered
// and surfaced by Healthy.
func (s *SnapshotStore) Probe(ctx context.Context, policy backoff.Policy, maxAttempts int) error {
	err := backoff.Retry(ctx, policy, maxAttempts,
		func(error) bool { return true },
		func(ctx context.Context) error { return s.db.PingContext(ctx) })
	s.mu.Lock()
	s.degraded = err != nil
	s.mu.Unlock()
	return err
}

// Healthy reports the outcome of the most recent probe. A store that has
// never been probed counts as healthy.
func (s *SnapshotStore) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.degraded
}

// SaveAttention replaces the stored attention snapshot.
func (s *SnapshotStore) SaveAttention(ctx context.Context, entries []attention.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin attention snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attention_levels`); err != nil {
		return fmt.Errorf("storage: clear attention snapshot: %w", err)
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attention_levels (channel_id, agent_id, level, updated_at)
			VALUES (?, ?, ?, ?)`,
			e.ChannelID, e.AgentID, e.Level, e.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("storage: insert attention level: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit attention snapshot: %w", err)
	}
	return nil
}

// LoadAttention returns the stored attention snapshot.
func (s *SnapshotStore) LoadAttention(ctx context.Context) ([]attention.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, agent_id, level, updated_at FROM attention_levels`)
	if err != nil {
		return nil, fmt.Errorf("storage: load attention snapshot: %w", err)
	}
	defer rows.Close()

	var out []attention.Entry
	for rows.Next() {
		var e attention.Entry
		var nanos int64
		if err := rows.Scan(&e.ChannelID, &e.AgentID, &e.Level, &nanos); err != nil {
			return nil, fmt.Errorf("storage: scan attention level: %w", err)
		}
		e.UpdatedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveCooldowns replaces the stored cooldown snapshot.
func (s *SnapshotStore) SaveCooldowns(ctx context.Context, entries []cooldown.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin cooldown snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cooldown_entries`); err != nil {
		return fmt.Errorf("storage: clear cooldown snapshot: %w", err)
	}
	for _, e := range entries {
		bot := 0
		if e.BotTriggered {
			bot = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cooldown_entries (agent_id, channel_id, responded_at, bot_triggered)
			VALUES (?, ?, ?, ?)`,
			e.AgentID, e.ChannelID, e.RespondedAt.UnixNano(), bot)
		if err != nil {
			return fmt.Errorf("storage: insert cooldown entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit cooldown snapshot: %w", err)
	}
	return nil
}

// LoadCooldowns returns the stored cooldown snapshot.
func (s *SnapshotStore) LoadCooldowns(ctx context.Context) ([]cooldown.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, channel_id, responded_at, bot_triggered FROM cooldown_entries`)
	if err != nil {
		return nil, fmt.Errorf("storage: load cooldown snapshot: %w", err)
	}
	defer rows.Close()

	var out []cooldown.Entry
	for rows.Next() {
		var e cooldown.Entry
		var nanos int64
		var bot int
		if err := rows.Scan(&e.AgentID, &e.ChannelID, &nanos, &bot); err != nil {
			return nil, fmt.Errorf("storage: scan cooldown entry: %w", err)
		}
		e.RespondedAt = time.Unix(0, nanos).UTC()
		e.BotTriggered = bot != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveState snapshots both live stores in one call.
func (s *SnapshotStore) SaveState(ctx context.Context, att *attention.Store, cd *cooldown.Ledger) error {
	if err := s.SaveAttention(ctx, att.Snapshot()); err != nil {
		return err
	}
	return s.SaveCooldowns(ctx, cd.Snapshot())
}

// LoadState restores both live stores from the last snapshot.
func (s *SnapshotStore) LoadState(ctx context.Context, att *attention.Store, cd *cooldown.Ledger) error {
	levels, err := s.LoadAttention(ctx)
	if err != nil {
		return err
	}
	att.Restore(levels)

	entries, err := s.LoadCooldowns(ctx)
	if err != nil {
		return err
	}
	cd.Restore(entries)
	return nil
}
