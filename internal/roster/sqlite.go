package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteRoster persists the agent population in a SQLite database using the
// CGO-free modernc driver.
type SQLiteRoster struct {
	db *sql.DB
}

const rosterSchema = `
CREATE TABLE IF NOT EXISTS agents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	tag         TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	avatar_url  TEXT NOT NULL DEFAULT '',
	model       TEXT NOT NULL DEFAULT ''
);
`

// OpenSQLiteRoster opens (and if needed creates) the roster database at path.
func OpenSQLiteRoster(path string) (*SQLiteRoster, error) {
	if path == "" {
		return nil, errors.New("roster: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("roster: open database: %w", err)
	}
	// modernc sqlite is single-writer; cap the pool to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(rosterSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("roster: apply schema: %w", err)
	}
	return &SQLiteRoster{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteRoster) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteRoster) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert inserts or replaces an agent row.
func (s *SQLiteRoster) Upsert(ctx context.Context, a Agent) error {
	if a.ID == "" {
		return errors.New("roster: agent id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, tag, description, avatar_url, model)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tag = excluded.tag,
			description = excluded.description,
			avatar_url = excluded.avatar_url,
			model = excluded.model`,
		a.ID, a.Name, a.Tag, a.Description, a.AvatarURL, a.Model)
	if err != nil {
		return fmt.Errorf("roster: upsert agent %s: %w", a.ID, err)
	}
	return nil
}

// ListAgents returns all agents ordered by ID.
func (s *SQLiteRoster) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tag, description, avatar_url, model FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("roster: list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Tag, &a.Description, &a.AvatarURL, &a.Model); err != nil {
			return nil, fmt.Errorf("roster: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAgent returns a single agent by ID.
func (s *SQLiteRoster) GetAgent(ctx context.Context, id string) (Agent, bool, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, tag, description, avatar_url, model FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Tag, &a.Description, &a.AvatarURL, &a.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, fmt.Errorf("roster: get agent %s: %w", id, err)
	}
	return a, true, nil
}

// SetModel persists a model reselection.
func (s *SQLiteRoster) SetModel(ctx context.Context, id, model string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET model = ? WHERE id = ?`, model, id)
	if err != nil {
		return fmt.Errorf("roster: set model for %s: %w", id, err)
	}
	return nil
}
