package view

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"viewtools/internal/logging"
)

// Session is a server-side session. Its attributes are shared by every
// request carrying the same session id.
type Session struct {
	*Attributes
	id         string
	created    time.Time
	lastAccess atomic.Int64 // unix nanos
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Created returns when the session was created.
func (s *Session) Created() time.Time { return s.created }

// LastAccess returns when the session was last looked up.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastAccess.Store(now.UnixNano())
}

// SessionStore keeps sessions in memory, keyed by a random id.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	maxIdle   time.Duration
	listeners []func(*Session)
	now       func() time.Time
	log       *zap.Logger
}

// NewSessionStore creates a store whose sessions expire after maxIdle
// without access. A zero maxIdle disables expiry.
func NewSessionStore(maxIdle time.Duration, log *zap.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		maxIdle:  maxIdle,
		now:      time.Now,
		log:      logging.OrNop(log),
	}
}

// OnDestroy registers a callback run for every destroyed or expired session.
func (s *SessionStore) OnDestroy(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Create starts a new session.
func (s *SessionStore) Create() *Session {
	now := s.now()
	sess := &Session{
		Attributes: NewAttributes(),
		id:         uuid.NewString(),
		created:    now,
	}
	sess.touch(now)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.log.Debug("session created", zap.String("id", sess.id))
	return sess
}

// Get returns the live session with the given id, or nil.
func (s *SessionStore) Get(id string) *Session {
	if id == "" {
		return nil
	}
	s.mu.RLock()
	sess := s.sessions[id]
	s.mu.RUnlock()
	if sess == nil {
		return nil
	}

	now := s.now()
	if s.expired(sess, now) {
		s.Destroy(id)
		return nil
	}
	sess.touch(now)
	return sess
}

// Destroy removes a session and notifies listeners.
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	listeners := append([]func(*Session){}, s.listeners...)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range listeners {
		fn(sess)
	}
	s.log.Debug("session destroyed", zap.String("id", id))
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep destroys every expired session and returns how many were removed.
func (s *SessionStore) Sweep() int {
	now := s.now()
	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.Destroy(id)
	}
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}

func (s *SessionStore) expired(sess *Session, now time.Time) bool {
	return s.maxIdle > 0 && now.Sub(sess.LastAccess()) > s.maxIdle
}
