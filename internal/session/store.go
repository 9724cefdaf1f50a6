// Package session tracks each requester's in-flight request between
// asynchronous steps.
package session

import (
	"sync"
	"time"

	"github.com/samber/mo"

	"tubebot/internal/media"
	"tubebot/internal/transport"
)

// State is the orchestrator state stored with a session.
type State string

const (
	AwaitingFormatChoice  State = "awaiting_format"
	AwaitingQualityChoice State = "awaiting_quality"
	Fetching              State = "fetching"
)

// Key identifies a requester.
type Key = transport.ChatTarget

// Session is a snapshot; mutating it does not change the store.
type Session struct {
	Source    media.SourceRef
	Meta      media.Metadata
	State     State
	Kind      mo.Option[media.Kind]
	Rendition mo.Option[media.Rendition]
	UpdatedAt time.Time
}

// Store is an in-memory session map with a TTL. One session per key;
// Put overwrites (last write wins).
type Store struct {
	mu  sync.Mutex
	m   map[Key]Session
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a store. ttl <= 0 disables expiry.
func NewStore(ttl time.Duration) *Store {
	return &Store{m: map[Key]Session{}, ttl: ttl, now: time.Now}
}

// SetTTL changes the expiry for subsequent checks.
func (s *Store) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *Store) expired(sess Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.UpdatedAt) > s.ttl
}

// Put starts a fresh session awaiting a format choice.
func (s *Store) Put(k Key, src media.SourceRef, md media.Metadata) Session {
	sess := Session{Source: src, Meta: md, State: AwaitingFormatChoice}
	s.mu.Lock()
	sess.UpdatedAt = s.now()
	s.m[k] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the live session or media.ErrSessionNotFound. Expired
// sessions are removed on access.
func (s *Store) Get(k Key) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	if !ok {
		return Session{}, media.ErrSessionNotFound
	}
	if s.expired(sess, s.now()) {
		delete(s.m, k)
		return Session{}, media.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) update(k Key, fn func(*Session)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	now := s.now()
	if !ok || s.expired(sess, now) {
		delete(s.m, k)
		return Session{}, media.ErrSessionNotFound
	}
	fn(&sess)
	sess.UpdatedAt = now
	s.m[k] = sess
	return sess, nil
}

// SetKind records the chosen media kind and moves to state.
func (s *Store) SetKind(k Key, kind media.Kind, state State) (Session, error) {
	return s.update(k, func(sess *Session) {
		sess.Kind = mo.Some(kind)
		sess.State = state
	})
}

// SetRendition records the chosen rendition and moves to Fetching.
func (s *Store) SetRendition(k Key, r media.Rendition) (Session, error) {
	return s.update(k, func(sess *Session) {
		sess.Rendition = mo.Some(r)
		sess.State = Fetching
	})
}

func (s *Store) Remove(k Key) {
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}

// RemoveIf deletes the session only while it still refers to sourceID,
// so a newer link sent during a fetch is not clobbered.
func (s *Store) RemoveIf(k Key, sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	if !ok || sess.Source.ID != sourceID {
		return false
	}
	delete(s.m, k)
	return true
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, sess := range s.m {
		if s.expired(sess, now) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
