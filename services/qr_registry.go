package services

import (
	"sync"
	"time"
)

const qrHandleTTL = 300 * time.Second

type qrEntry struct {
	login     QRLogin
	userID    uint
	accountID string
	createdAt time.Time
}

// QRLoginRegistry tracks interactive QR login attempts started through the
// API so the poll endpoint can find them again. Same locking discipline as
// the SMS registry: the map is the unit of locking, expiry is lazy.
type QRLoginRegistry struct {
	mu      sync.Mutex
	entries map[string]*qrEntry
}

// NewQRLoginRegistry creates an empty registry
func NewQRLoginRegistry() *QRLoginRegistry {
	return &QRLoginRegistry{entries: make(map[string]*qrEntry)}
}

// Put stores a QR login attempt under its session id
func (r *QRLoginRegistry) Put(login QRLogin, userID uint, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[login.SessionID()] = &qrEntry{
		login:     login,
		userID:    userID,
		accountID: accountID,
		createdAt: time.Now(),
	}
}

// Get returns the QR login attempt with its owner, or nil when absent or
// expired
func (r *QRLoginRegistry) Get(sessionID string) (QRLogin, uint, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return nil, 0, ""
	}
	if time.Since(entry.createdAt) > qrHandleTTL {
		delete(r.entries, sessionID)
		return nil, 0, ""
	}
	return entry.login, entry.userID, entry.accountID
}

// Remove drops the QR login attempt
func (r *QRLoginRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// SweepExpired evicts attempts past the handle TTL
func (r *QRLoginRegistry) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.entries {
		if time.Since(entry.createdAt) > qrHandleTTL {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
