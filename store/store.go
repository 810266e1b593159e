// Package store defines the session persistence interface and its SQLite
// implementation. Persistence is best-effort from the orchestrator's point
// of view: a write failure is logged by the caller and never changes the
// outcome of a negotiation.
package store

import (
	"context"

	"github.com/wxlim/dealbroker/domain"
)

// Store persists negotiation transcripts and artifacts, keyed by session id.
// Each save overwrites the previous value for the session, so a retry is
// safe.
type Store interface {
	SaveTranscript(ctx context.Context, sessionID string, status domain.SessionStatus, transcript []domain.Message) error
	SaveArtifact(ctx context.Context, sessionID string, artifact *domain.Artifact) error

	// GetSnapshot returns the persisted view of a session, or nil when the
	// session has never been saved.
	GetSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	ListSessionIDs(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}
