package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wxlim/dealbroker/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '[]',
			artifact TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTranscript writes the full transcript for a session, overwriting any
// previous save.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, sessionID string, status domain.SessionStatus, transcript []domain.Message) error {
	payload, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, status, transcript, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET status = excluded.status, transcript = excluded.transcript, updated_at = excluded.updated_at`,
		sessionID, string(status), string(payload), time.Now())
	return err
}

// SaveArtifact writes the final artifact for a session. A nil artifact is a
// no-op.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, sessionID string, artifact *domain.Artifact) error {
	if artifact == nil {
		return nil
	}
	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, status, artifact, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET artifact = excluded.artifact, updated_at = excluded.updated_at`,
		sessionID, string(domain.SessionStatusCompleted), string(payload), time.Now())
	return err
}

// GetSnapshot retrieves the persisted session view, or nil when absent.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	var (
		status     string
		transcript string
		artifact   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, transcript, artifact FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&status, &transcript, &artifact)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	snap := &domain.Snapshot{
		SessionID: sessionID,
		Status:    domain.SessionStatus(status),
	}
	if err := json.Unmarshal([]byte(transcript), &snap.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	if artifact.Valid && artifact.String != "" {
		var a domain.Artifact
		if err := json.Unmarshal([]byte(artifact.String), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
		}
		snap.Artifact = &a
	}
	return snap, nil
}

// ListSessionIDs returns all persisted session ids, most recent first.
func (s *SQLiteStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
