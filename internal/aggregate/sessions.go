package aggregate

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"norelock.dev/listenify/providerhost/internal/models"
)

// ErrSessionNotFound is returned for unknown or expired search sessions.
var ErrSessionNotFound = errors.New("search session not found")

// session tracks one logical query across pages.
type session struct {
	// mu serializes page fetches within the session.
	mu sync.Mutex

	id    string
	query string
	kind  models.MediaType

	// pending maps each provider that reported more results to the page to ask for next.
	pending map[string]int
	seen    map[models.ItemKey]struct{}
	pages   int

	expiresAt time.Time
}

// SessionStore is an in-memory expiring store of search sessions.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*session
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxSessions caps live sessions; the oldest is evicted first.
func WithMaxSessions(n int) SessionOption {
	return func(s *SessionStore) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// NewSessionStore creates an empty store.
func NewSessionStore(options ...SessionOption) *SessionStore {
	s := &SessionStore{
		sessions:    make(map[string]*session),
		ttl:         10 * time.Minute,
		maxSessions: 1000,
		now:         time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *SessionStore) create(query string, kind models.MediaType) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)
	for len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	sess := &session{
		id:        uuid.NewString(),
		query:     query,
		kind:      kind,
		pending:   make(map[string]int),
		seen:      make(map[models.ItemKey]struct{}),
		expiresAt: now.Add(s.ttl),
	}
	s.sessions[sess.id] = sess
	return sess
}

// get returns a live session and extends its lifetime.
func (s *SessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.After(sess.expiresAt) {
		delete(s.sessions, id)
		return nil, false
	}
	sess.expiresAt = now.Add(s.ttl)
	return sess, true
}

// Delete drops a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Purge removes expired sessions and returns how many were removed.
func (s *SessionStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(s.now())
}

func (s *SessionStore) purgeLocked(now time.Time) int {
	removed := 0
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *SessionStore) evictOldestLocked() {
	var oldest *session
	for _, sess := range s.sessions {
		if oldest == nil || sess.expiresAt.Before(oldest.expiresAt) {
			oldest = sess
		}
	}
	if oldest != nil {
		delete(s.sessions, oldest.id)
	}
}
