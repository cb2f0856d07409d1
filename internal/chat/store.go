// ABOUTME: In-memory session registry keyed by id with idle eviction
// ABOUTME: Lets stateless HTTP callers resume a conversation by session id

package chat

import (
	"fmt"
	"sync"
	"time"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// StoreConfig configures a SessionStore.
type StoreConfig struct {
	// Template is copied into every new session; its ID is replaced.
	Template SessionConfig

	// TTL evicts sessions idle for longer. Zero uses DefaultSessionTTL.
	TTL time.Duration

	now func() time.Time
}

type storeEntry struct {
	session  *Session
	lastUsed time.Time
}

// SessionStore hands out sessions by id.
type SessionStore struct {
	cfg StoreConfig

	mu       sync.Mutex
	sessions map[string]*storeEntry
}

// NewSessionStore creates an empty store.
func NewSessionStore(cfg StoreConfig) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &SessionStore{cfg: cfg, sessions: make(map[string]*storeEntry)}
}

// Acquire returns the session for id, creating a new one when id is empty,
// unknown, or expired. Expired sessions are swept on every call.
func (s *SessionStore) Acquire(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	s.sweepLocked(now)

	if e, ok := s.sessions[id]; ok && id != "" {
		e.lastUsed = now
		return e.session, nil
	}

	cfg := s.cfg.Template
	cfg.ID = ""
	sess, err := NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating chat session: %w", err)
	}
	s.sessions[sess.ID()] = &storeEntry{session: sess, lastUsed: now}
	return sess, nil
}

// Delete drops a session and reports whether it existed.
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.cfg.now())
	return len(s.sessions)
}

func (s *SessionStore) sweepLocked(now time.Time) {
	for id, e := range s.sessions {
		if now.Sub(e.lastUsed) > s.cfg.TTL {
			delete(s.sessions, id)
		}
	}
}
