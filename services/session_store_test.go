package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)

	session := &Session{
		BrokerAccountID: "acc-1",
		CookieBlob:      "blob-1",
		Method:          "sms",
		CreatedAt:       time.Now().Truncate(time.Second),
		LastValidatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Put(session))

	got, err := store.Get("acc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "blob-1", got.CookieBlob)
	require.Equal(t, "sms", got.Method)
}

func TestSessionStoreAbsent(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)

	got, err := store.Get("nope")
	require.NoError(t, err)
	require.Nil(t, got)

	// Deleting an absent session is a no-op
	require.NoError(t, store.Delete("nope"))
}

func TestSessionStoreOverwrite(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)

	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "old", Method: "sms"}))
	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "new", Method: "qr"}))

	got, err := store.Get("acc-1")
	require.NoError(t, err)
	require.Equal(t, "new", got.CookieBlob)
	require.Equal(t, "qr", got.Method)
}

func TestSessionStoreTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	store := NewSessionStore(cache, time.Minute)

	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "blob"}))

	mr.FastForward(2 * time.Minute)

	got, err := store.Get("acc-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSessionStoreTouch(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "blob", LastValidatedAt: past}))

	require.NoError(t, store.Touch("acc-1"))

	got, err := store.Get("acc-1")
	require.NoError(t, err)
	require.True(t, got.LastValidatedAt.After(past))

	// Touching an absent session is a no-op
	require.NoError(t, store.Touch("missing"))
}
