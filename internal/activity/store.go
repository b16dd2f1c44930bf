// Package activity records sessions and per-actor log entries produced by
// fleet runs, tracks client connections, and shuts the service down when
// it has been idle long enough.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/drover-io/drover/pkg/module"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("activity session not found")

// Session groups the log entries of one workflow run.
type Session struct {
	ID        string
	Workflow  string
	CreatedAt time.Time
}

// Entry is one log line attributed to an actor within a session.
type Entry struct {
	SessionID string
	ActorID   string
	Label     string
	Level     string
	Message   string
	Timestamp time.Time
}

// migrations holds the activity schema, applied through the shared
// migration tracker.
var migrations = []module.Migration{
	{
		Version:     1,
		Description: "create activity sessions and entries tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS activity_sessions (
					id         TEXT     PRIMARY KEY,
					workflow   TEXT     NOT NULL,
					created_at DATETIME NOT NULL
				);
				CREATE TABLE IF NOT EXISTS activity_entries (
					id         INTEGER  PRIMARY KEY AUTOINCREMENT,
					session_id TEXT     NOT NULL REFERENCES activity_sessions(id),
					actor_id   TEXT     NOT NULL,
					label      TEXT     NOT NULL,
					level      TEXT     NOT NULL,
					message    TEXT     NOT NULL,
					timestamp  DATETIME NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_activity_entries_session
					ON activity_entries(session_id);
			`)
			return err
		},
	},
}

// Store persists sessions and entries in the shared SQLite database.
type Store struct {
	db module.Store
}

// NewStore wraps the shared store and applies the activity migrations.
func NewStore(ctx context.Context, db module.Store) (*Store, error) {
	if err := db.Migrate(ctx, "activity", migrations); err != nil {
		return nil, fmt.Errorf("migrate activity schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertSession records a new session row.
func (s *Store) InsertSession(ctx context.Context, sess Session) error {
	_, err := s.db.DB().ExecContext(ctx,
		"INSERT INTO activity_sessions (id, workflow, created_at) VALUES (?, ?, ?)",
		sess.ID, sess.Workflow, sess.CreatedAt.UTC(),
	)
	return err
}

// InsertEntry records one log entry.
func (s *Store) InsertEntry(ctx context.Context, e Entry) error {
	_, err := s.db.DB().ExecContext(ctx,
		`INSERT INTO activity_entries (session_id, actor_id, label, level, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.ActorID, e.Label, e.Level, e.Message, e.Timestamp.UTC(),
	)
	return err
}

// SessionByID fetches one session.
func (s *Store) SessionByID(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT id, workflow, created_at FROM activity_sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.Workflow, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

// EntriesBySession returns a session's entries in write-arrival order.
func (s *Store) EntriesBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT session_id, actor_id, label, level, message, timestamp
		 FROM activity_entries WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.ActorID, &e.Label, &e.Level, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DistinctActors returns the unique actor ids that logged within a
// session, sorted.
func (s *Store) DistinctActors(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		"SELECT DISTINCT actor_id FROM activity_entries WHERE session_id = ? ORDER BY actor_id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query actors for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var actors []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}
