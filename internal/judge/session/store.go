package session

import (
	"context"
	"sync"
	"time"

	"wbuoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is the lifetime of a session issued by the legacy login flow.
	DefaultTTL = 24 * time.Hour

	// DefaultSweepInterval bounds memory growth from abandoned sessions.
	DefaultSweepInterval = time.Hour
)

type entry struct {
	principal string
	expiresAt time.Time
}

// Store is an in-memory bearer-token registry for workers that authenticate
// through the legacy cookie/session login flow. Entries are deleted lazily
// on lookup and swept periodically.
type Store struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
}

// NewStore creates a session store. A non-positive ttl falls back to 24h.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]entry),
		ttl:      ttl,
	}
}

// Create registers a new session for the principal and returns its token.
func (s *Store) Create(principal string) string {
	token := uuid.NewString()

	s.mu.Lock()
	s.sessions[token] = entry{
		principal: principal,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return token
}

// Verify reports whether the token names a live session and returns the
// associated principal. An expired entry is deleted on the spot.
func (s *Store) Verify(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.sessions, token)
		return "", false
	}
	return e.principal, true
}

// TTL returns the lifetime applied to new sessions.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Delete removes a session.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes all expired sessions and returns how many were dropped.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Debug(ctx, "swept expired sessions", zap.Int("removed", removed))
			}
		}
	}
}
