package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection for capture sessions and their ready windows.
type Store struct {
	conn *pgx.Conn
}

// Session is one guidance run over a source (a video file or a camera).
type Session struct {
	ID        uuid.UUID
	SourceID  string
	Path      string
	Label     string
	Frames    int
	Analyzed  int
	Windows   int
	CreatedAt time.Time
}

// Window is a continuous span in which the guidance engine reported ready-to-capture.
// Times are seconds from the start of the source.
type Window struct {
	Start         float64
	End           float64
	Frames        int
	PeakSharpness float64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS capture_sessions (
			id UUID PRIMARY KEY,
			source_id TEXT NOT NULL,
			path TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			frames INT NOT NULL DEFAULT 0,
			analyzed INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS ready_windows (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID REFERENCES capture_sessions(id) ON DELETE CASCADE,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			frames INT NOT NULL,
			peak_sharpness DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ready_windows_session_id_idx ON ready_windows (session_id);
		CREATE INDEX IF NOT EXISTS capture_sessions_source_id_idx ON capture_sessions (source_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureSession registers a session. Earlier sessions over the same source are replaced so a
// re-scan does not duplicate windows.
func (s *Store) EnsureSession(ctx context.Context, id uuid.UUID, sourceID, path string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM capture_sessions WHERE source_id = $1 AND id <> $2", sourceID, id); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO capture_sessions (id, source_id, path, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET path = EXCLUDED.path
	`, id, sourceID, path)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertWindow saves one ready window.
func (s *Store) InsertWindow(ctx context.Context, sessionID uuid.UUID, w Window) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO ready_windows (session_id, start_time, end_time, frames, peak_sharpness)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, w.Start, w.End, w.Frames, w.PeakSharpness)
	return err
}

// UpdateSessionCounts records how many frames were decoded and analyzed.
func (s *Store) UpdateSessionCounts(ctx context.Context, id uuid.UUID, frames, analyzed int) error {
	_, err := s.conn.Exec(ctx, "UPDATE capture_sessions SET frames = $1, analyzed = $2 WHERE id = $3", frames, analyzed, id)
	return err
}

// ListSessions returns every session, newest first, with its window count.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.source_id, s.path, s.label, s.frames, s.analyzed, s.created_at, COUNT(w.id)
		FROM capture_sessions s
		LEFT JOIN ready_windows w ON w.session_id = s.id
		GROUP BY s.id
		ORDER BY s.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.SourceID, &sess.Path, &sess.Label, &sess.Frames, &sess.Analyzed, &sess.CreatedAt, &sess.Windows); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionWindows returns the ready windows of a session in time order.
func (s *Store) SessionWindows(ctx context.Context, id uuid.UUID) ([]Window, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT start_time, end_time, frames, peak_sharpness
		FROM ready_windows WHERE session_id = $1 ORDER BY start_time ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var w Window
		if err := rows.Scan(&w.Start, &w.End, &w.Frames, &w.PeakSharpness); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// LabelSession sets a human-readable label on a session.
func (s *Store) LabelSession(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE capture_sessions SET label = $1 WHERE id = $2", label, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS ready_windows CASCADE;
		DROP TABLE IF EXISTS capture_sessions CASCADE;
	`)
	return err
}
