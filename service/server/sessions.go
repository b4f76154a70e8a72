package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/brojonat/walletcore/service/wallet"
)

var (
	errSessionNotFound = errors.New("sign session not found")
	errSessionExpired  = errors.New("sign session expired")
	errSessionBusy     = errors.New("sign session is already being submitted")
)

// signSession is a prepared transaction waiting for external signatures.
type signSession struct {
	ID        string
	Manager   *wallet.Manager
	Request   *wallet.SignRequest
	ExpiresAt time.Time
	busy      bool
}

// sessionStore keeps sign sessions until they are submitted or expire.
// Cache entries outlive ExpiresAt by one TTL so a late submit reports the
// session as expired rather than unknown. A claimed session is pinned in the
// cache until it is released or removed.
type sessionStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	cache *ttlcache.Cache[string, *signSession]
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &sessionStore{
		ttl: ttl,
		now: time.Now,
		cache: ttlcache.New[string, *signSession](
			ttlcache.WithTTL[string, *signSession](2*ttl),
			ttlcache.WithDisableTouchOnHit[string, *signSession](),
		),
	}
}

func (s *sessionStore) put(m *wallet.Manager, req *wallet.SignRequest) *signSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.DeleteExpired()
	sess := &signSession{
		ID:        uuid.NewString(),
		Manager:   m,
		Request:   req,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.cache.Set(sess.ID, sess, ttlcache.DefaultTTL)
	return sess
}

// claim marks a session as in use. Expired sessions are dropped.
func (s *sessionStore) claim(id string) (*signSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(id)
	if item == nil {
		return nil, errSessionNotFound
	}
	sess := item.Value()
	if s.now().After(sess.ExpiresAt) {
		s.cache.Delete(id)
		return nil, errSessionExpired
	}
	if sess.busy {
		return nil, errSessionBusy
	}
	sess.busy = true
	s.cache.Set(id, sess, ttlcache.NoTTL)
	return sess, nil
}

// release returns a claimed session so the signatures can be resubmitted.
func (s *sessionStore) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item := s.cache.Get(id); item != nil {
		sess := item.Value()
		sess.busy = false
		s.cache.Set(id, sess, ttlcache.DefaultTTL)
	}
}

func (s *sessionStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(id)
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.DeleteExpired()
	return s.cache.Len()
}
