package services

import (
	"encoding/json"
	"fmt"
	"time"
)

const sessionKeyPrefix = "broker:session:"

// Session is the stored credential state for one broker account. At most one
// Session exists per account; a re-login overwrites it (last-write-wins).
type Session struct {
	BrokerAccountID string    `json:"broker_account_id"`
	CookieBlob      string    `json:"cookie_blob"`
	Method          string    `json:"method"` // sms or qr
	CreatedAt       time.Time `json:"created_at"`
	LastValidatedAt time.Time `json:"last_validated_at"`
}

// SessionStore is the durable, TTL-bearing mapping from broker account to
// session blob, backed by the generic CacheStore.
type SessionStore struct {
	cache CacheStore
	ttl   time.Duration
}

// NewSessionStore creates a session store with the given session TTL
func NewSessionStore(cache CacheStore, ttl time.Duration) *SessionStore {
	return &SessionStore{cache: cache, ttl: ttl}
}

func sessionKey(accountID string) string {
	return sessionKeyPrefix + accountID
}

// Get returns the stored session for the account, or nil when absent
func (s *SessionStore) Get(accountID string) (*Session, error) {
	data, err := s.cache.Get(sessionKey(accountID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("corrupt session for account %s: %w", accountID, err)
	}
	return &session, nil
}

// Put stores the session, overwriting any previous one for the account
func (s *SessionStore) Put(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session for account %s: %w", session.BrokerAccountID, err)
	}
	return s.cache.Set(sessionKey(session.BrokerAccountID), data, s.ttl)
}

// Touch updates the last-validated timestamp without resetting the TTL clock
// semantics: the whole record is rewritten with the configured TTL, which is
// how the platform-side expiry is tracked too.
func (s *SessionStore) Touch(accountID string) error {
	session, err := s.Get(accountID)
	if err != nil || session == nil {
		return err
	}
	session.LastValidatedAt = time.Now()
	return s.Put(session)
}

// Delete removes the session for the account. Deleting an absent session is
// a no-op.
func (s *SessionStore) Delete(accountID string) error {
	return s.cache.Delete(sessionKey(accountID))
}
