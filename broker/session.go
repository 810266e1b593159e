// Package broker implements the negotiation orchestrator: the session
// registry, the turn-bounded offer/counter loop, and the broker HTTP API.
package broker

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/wxlim/dealbroker/domain"
)

// Session is one negotiation session. It is exclusively owned and mutated
// by the orchestrator; everything readable from outside goes through
// Snapshot.
type Session struct {
	mu          sync.Mutex
	id          string
	status      domain.SessionStatus
	transcript  []domain.Message
	artifact    *domain.Artifact
	subscribers map[chan domain.Message]struct{}
}

func newSession(id string) *Session {
	return &Session{
		id:          id,
		status:      domain.SessionStatusIdle,
		subscribers: make(map[chan domain.Message]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current session status.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status domain.SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Append adds a message to the transcript and fans it out to subscribers.
// The transcript is append-only; a slow subscriber misses messages rather
// than blocking the negotiation loop.
func (s *Session) Append(msg domain.Message) {
	s.mu.Lock()
	s.transcript = append(s.transcript, msg)
	for ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Session) setArtifact(a *domain.Artifact) {
	s.mu.Lock()
	s.artifact = a
	s.mu.Unlock()
}

// Snapshot returns a copy of the externally visible session state.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Snapshot{
		SessionID:  s.id,
		Status:     s.status,
		Transcript: append([]domain.Message(nil), s.transcript...),
		Artifact:   s.artifact,
	}
}

// Reset returns the session to idle with an empty transcript and no
// artifact. Reset is idempotent.
func (s *Session) Reset() {
	s.mu.Lock()
	s.status = domain.SessionStatusIdle
	s.transcript = nil
	s.artifact = nil
	s.mu.Unlock()
}

// Subscribe registers a live-transcript subscriber and returns the messages
// appended so far together with the channel carrying subsequent ones. The
// replay and the registration happen under one lock so no message is lost
// in between.
func (s *Session) Subscribe() ([]domain.Message, chan domain.Message) {
	ch := make(chan domain.Message, 64)
	s.mu.Lock()
	replay := append([]domain.Message(nil), s.transcript...)
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return replay, ch
}

// Unsubscribe removes a subscriber registered via Subscribe.
func (s *Session) Unsubscribe(ch chan domain.Message) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
}

// historySummary renders the last max transcript entries as compact JSON,
// the bounded history window forwarded to counterparties.
func (s *Session) historySummary(max int) string {
	s.mu.Lock()
	tail := s.transcript
	if len(tail) > max {
		tail = tail[len(tail)-max:]
	}
	compact := make([]map[string]string, 0, len(tail))
	for _, m := range tail {
		compact = append(compact, map[string]string{
			"role":      m.Role,
			"content":   m.Content,
			"rationale": m.Rationale,
		})
	}
	s.mu.Unlock()

	b, err := json.Marshal(compact)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Registry keys sessions by id. Each session runs its own sequential loop;
// there is no shared mutable state between sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create allocates a new idle session.
func (r *Registry) Create() *Session {
	sess := newSession("sess_" + uuid.New().String()[:8])
	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()
	return sess
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// List returns a snapshot of every registered session's id and status.
func (r *Registry) List() []domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Snapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, domain.Snapshot{SessionID: sess.id, Status: sess.Status()})
	}
	return out
}

// ResetAll drops every session from the registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
}
