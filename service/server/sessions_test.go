package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/wallet"
)

func newTestStore(ttl time.Duration) (*sessionStore, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSessionStore(ttl)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSessionStore_ClaimIsExclusive(t *testing.T) {
	store, _ := newTestStore(time.Minute)
	sess := store.put(nil, &wallet.SignRequest{})

	claimed, err := store.claim(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, claimed)

	_, err = store.claim(sess.ID)
	assert.ErrorIs(t, err, errSessionBusy)

	store.release(sess.ID)
	_, err = store.claim(sess.ID)
	assert.NoError(t, err)

	store.remove(sess.ID)
	_, err = store.claim(sess.ID)
	assert.ErrorIs(t, err, errSessionNotFound)
}

func TestSessionStore_Expiry(t *testing.T) {
	store, now := newTestStore(time.Minute)
	sess := store.put(nil, &wallet.SignRequest{})
	assert.Equal(t, now.Add(time.Minute), sess.ExpiresAt)

	*now = now.Add(2 * time.Minute)

	_, err := store.claim(sess.ID)
	assert.ErrorIs(t, err, errSessionExpired)
	assert.Equal(t, 0, store.count())
}

func TestSessionStore_PutPurgesAbandonedIdleSessions(t *testing.T) {
	store := newSessionStore(10 * time.Millisecond)
	idle := store.put(nil, &wallet.SignRequest{})
	busy := store.put(nil, &wallet.SignRequest{})
	_, err := store.claim(busy.ID)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	store.put(nil, &wallet.SignRequest{})

	assert.Equal(t, 2, store.count())
	_, err = store.claim(idle.ID)
	assert.ErrorIs(t, err, errSessionNotFound)
}

func TestSessionStore_ReleaseAfterExpiryReportsExpired(t *testing.T) {
	store, now := newTestStore(time.Minute)
	sess := store.put(nil, &wallet.SignRequest{})
	_, err := store.claim(sess.ID)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	store.release(sess.ID)

	_, err = store.claim(sess.ID)
	assert.ErrorIs(t, err, errSessionExpired)
}

func TestSessionStore_DefaultTTL(t *testing.T) {
	store := newSessionStore(0)
	assert.Equal(t, 5*time.Minute, store.ttl)
}
