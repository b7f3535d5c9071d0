package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidatorNoSession(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)
	validator := NewSessionValidator(store, newFakeGateway())

	require.False(t, validator.IsValid("acc-1"))
}

func TestValidatorValidSessionTouched(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)
	gateway := newFakeGateway()
	gateway.markValid("blob-1")
	validator := NewSessionValidator(store, gateway)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "blob-1", LastValidatedAt: past}))

	require.True(t, validator.IsValid("acc-1"))

	got, err := store.Get("acc-1")
	require.NoError(t, err)
	require.True(t, got.LastValidatedAt.After(past))
}

func TestValidatorInvalidSession(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)
	validator := NewSessionValidator(store, newFakeGateway())

	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "stale"}))

	require.False(t, validator.IsValid("acc-1"))
}

func TestValidatorFailsClosed(t *testing.T) {
	cache, _ := newTestCache(t)
	store := NewSessionStore(cache, time.Hour)
	gateway := newFakeGateway()
	gateway.validateErr = errors.New("platform unreachable")
	validator := NewSessionValidator(store, gateway)

	require.NoError(t, store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "blob-1"}))

	// A check that cannot complete counts as invalid
	require.False(t, validator.IsValid("acc-1"))
}
