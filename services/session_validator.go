package services

import "log"

// SessionValidator decides whether a stored session is still accepted by the
// broker platform. It is fail-closed: any transport problem during the check
// counts as invalid, and the validator never returns an error to its caller.
type SessionValidator struct {
	store   *SessionStore
	gateway PlatformGateway
}

// NewSessionValidator creates a validator over the store and platform gateway
func NewSessionValidator(store *SessionStore, gateway PlatformGateway) *SessionValidator {
	return &SessionValidator{store: store, gateway: gateway}
}

// IsValid reports whether the account's stored session is still accepted by
// the platform. No stored session means invalid.
func (v *SessionValidator) IsValid(accountID string) bool {
	session, err := v.store.Get(accountID)
	if err != nil {
		log.Printf("Session lookup failed for account %s: %v", accountID, err)
		return false
	}
	if session == nil {
		return false
	}

	ok, err := v.gateway.ValidateSession(session.CookieBlob)
	if err != nil {
		log.Printf("Session validation call failed for account %s: %v", accountID, err)
		return false
	}

	if ok {
		if err := v.store.Touch(accountID); err != nil {
			log.Printf("Failed to touch session for account %s: %v", accountID, err)
		}
	}
	return ok
}
