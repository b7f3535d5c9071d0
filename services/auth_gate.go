package services

import (
	"errors"
	"fmt"
	"log"
)

// triggerSubmitter is what the gate needs from the coordinator: a
// non-blocking way to hand off remediation work.
type triggerSubmitter interface {
	Submit(accountID string) bool
}

// AuthGate guards every operation that needs a valid broker session. It
// checks the session store up front, and when a wrapped call comes back with
// the platform's 401-equivalent it invalidates the session, schedules a
// deduped re-login in the background, and surfaces ErrSessionExpired to the
// caller. The triggering request is never held open for the login flow.
type AuthGate struct {
	store       *SessionStore
	coordinator triggerSubmitter
	journal     *AuditJournal
}

// NewAuthGate creates a gate over the store and coordinator. journal may be
// nil.
func NewAuthGate(store *SessionStore, coordinator triggerSubmitter, journal *AuditJournal) *AuthGate {
	return &AuthGate{store: store, coordinator: coordinator, journal: journal}
}

// Wrap runs op with the account's stored session. An empty accountID means
// the operation needs no session and op runs with nil. Otherwise:
//
//   - no stored session: remediation is scheduled and ErrSessionExpired is
//     returned immediately, op never runs;
//   - op reports ErrPlatformUnauthorized: the session is deleted, remediation
//     is scheduled, and the caller gets ErrSessionExpired in its place;
//   - any other error from op passes through untouched.
func (g *AuthGate) Wrap(accountID string, op func(session *Session) error) error {
	if accountID == "" {
		return op(nil)
	}

	session, err := g.store.Get(accountID)
	if err != nil {
		return fmt.Errorf("session lookup for account %s: %w", accountID, err)
	}
	if session == nil {
		g.invalidate(accountID, "no stored session")
		return fmt.Errorf("%w: account %s has no session", ErrSessionExpired, accountID)
	}

	err = op(session)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPlatformUnauthorized) {
		g.invalidate(accountID, "platform 401")
		return fmt.Errorf("%w: account %s: %v", ErrSessionExpired, accountID, err)
	}
	return err
}

// invalidate deletes the stored session (a no-op when absent) and schedules
// exactly one background trigger submission.
func (g *AuthGate) invalidate(accountID, cause string) {
	if err := g.store.Delete(accountID); err != nil {
		log.Printf("Failed to delete session for account %s: %v", accountID, err)
	}
	g.journal.Record(accountID, EventSessionInvalidated, cause)
	g.coordinator.Submit(accountID)
}
