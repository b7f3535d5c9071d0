package services

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"broker_backend_project/models"
)

const triggerKeyPrefix = "broker:relogin:last:"

// SkipReason is the closed set of reasons the deduper declines to trigger a
// re-login. These are deliberate no-ops, not errors.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipFeatureDisabled   SkipReason = "auto_relogin_disabled"
	SkipAccountUnknown    SkipReason = "account_unknown"
	SkipAccountInactive   SkipReason = "account_inactive"
	SkipUserInactive      SkipReason = "user_inactive"
	SkipNoLoginMethod     SkipReason = "no_login_method"
	SkipRecentlyTriggered SkipReason = "recently_triggered"
)

// ReloginDeduper decides whether a re-login attempt may fire for an account.
// The recent-trigger record lives in the cache with TTL equal to the dedup
// window; the check is best-effort by design, a duplicate trigger in the
// same instant is an accepted rare cost.
type ReloginDeduper struct {
	cache       CacheStore
	directory   AccountDirectory
	enabled     func() bool
	dedupWindow time.Duration
}

// NewReloginDeduper creates a deduper. enabled is the "auto re-login" feature
// flag; dedupWindow should match the sweep interval.
func NewReloginDeduper(cache CacheStore, directory AccountDirectory, enabled func() bool, dedupWindow time.Duration) *ReloginDeduper {
	return &ReloginDeduper{
		cache:       cache,
		directory:   directory,
		enabled:     enabled,
		dedupWindow: dedupWindow,
	}
}

// ShouldTrigger evaluates the eligibility gate in order, short-circuiting on
// the first failing condition.
func (d *ReloginDeduper) ShouldTrigger(accountID string) (bool, SkipReason) {
	if !d.enabled() {
		return false, SkipFeatureDisabled
	}

	account, err := d.directory.GetAccount(accountID)
	if err != nil {
		log.Printf("Dedup account lookup failed for %s: %v", accountID, err)
		return false, SkipAccountUnknown
	}
	if account == nil {
		return false, SkipAccountUnknown
	}
	if !account.IsActive {
		return false, SkipAccountInactive
	}

	active, err := d.directory.UserActive(account.UserID)
	if err != nil {
		log.Printf("Dedup user lookup failed for account %s: %v", accountID, err)
		return false, SkipUserInactive
	}
	if !active {
		return false, SkipUserInactive
	}

	if account.LastLoginMethod == "" {
		return false, SkipNoLoginMethod
	}

	record, err := d.cache.Get(triggerKeyPrefix + accountID)
	if err != nil {
		log.Printf("Dedup trigger lookup failed for %s: %v", accountID, err)
		// Fail open here: a cache outage should not freeze re-logins.
	}
	if record != nil {
		return false, SkipRecentlyTriggered
	}

	return true, SkipNone
}

// MarkTriggered records that a trigger fired for the account. The record
// expires with the dedup window.
func (d *ReloginDeduper) MarkTriggered(accountID string) {
	ts := []byte(strconv.FormatInt(time.Now().Unix(), 10))
	if err := d.cache.Set(triggerKeyPrefix+accountID, ts, d.dedupWindow); err != nil {
		log.Printf("Failed to record relogin trigger for %s: %v", accountID, err)
	}
}

// ReloginState describes where a triggered re-login attempt stands
type ReloginState string

const (
	ReloginQRDispatched      ReloginState = "qr_dispatched"
	ReloginSmsCodeSent       ReloginState = "sms_code_sent"
	ReloginSmsCaptchaPending ReloginState = "sms_captcha_pending"
	ReloginFailed            ReloginState = "failed"
)

// ReloginResult is the structured outcome of one trigger attempt. Both the
// SMS states are pending: a human still has to finish the handshake.
type ReloginResult struct {
	Triggered bool         `json:"triggered"`
	Method    string       `json:"method"`
	State     ReloginState `json:"state"`
	Reason    string       `json:"reason,omitempty"`
}

// ReloginCoordinator orchestrates end-to-end re-login attempts. The request
// path submits accounts to an internal task queue so the triggering request
// is never held open; the sweeper calls TriggerReLogin directly and awaits
// the outcome.
type ReloginCoordinator struct {
	store     *SessionStore
	registry  *SmsChallengeRegistry
	gateway   PlatformGateway
	directory AccountDirectory
	deduper   *ReloginDeduper
	notifier  NotificationDispatcher
	journal   *AuditJournal

	qrPollInterval time.Duration
	qrPollTimeout  time.Duration

	tasks    chan string
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewReloginCoordinator wires the coordinator. journal may be nil.
func NewReloginCoordinator(
	store *SessionStore,
	registry *SmsChallengeRegistry,
	gateway PlatformGateway,
	directory AccountDirectory,
	deduper *ReloginDeduper,
	notifier NotificationDispatcher,
	journal *AuditJournal,
) *ReloginCoordinator {
	return &ReloginCoordinator{
		store:          store,
		registry:       registry,
		gateway:        gateway,
		directory:      directory,
		deduper:        deduper,
		notifier:       notifier,
		journal:        journal,
		qrPollInterval: 2 * time.Second,
		qrPollTimeout:  90 * time.Second,
		tasks:          make(chan string, 64),
		stopChan:       make(chan struct{}),
	}
}

// Start launches the background trigger worker
func (c *ReloginCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.wg.Add(1)
	go c.run()
	log.Println("Relogin coordinator started")
}

// Stop stops the background worker and waits for in-flight work
func (c *ReloginCoordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	c.mu.Unlock()

	c.wg.Wait()
	log.Println("Relogin coordinator stopped")
}

// Submit enqueues an account for a background deduped trigger. It never
// blocks; when the queue is full the submission is dropped and logged, the
// next sweep cycle will pick the account up again.
func (c *ReloginCoordinator) Submit(accountID string) bool {
	select {
	case c.tasks <- accountID:
		return true
	default:
		log.Printf("Relogin queue full, dropping trigger for account %s", accountID)
		return false
	}
}

func (c *ReloginCoordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		case accountID := <-c.tasks:
			c.processSubmission(accountID)
		}
	}
}

func (c *ReloginCoordinator) processSubmission(accountID string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Relogin worker panic for account %s: %v", accountID, rec)
		}
	}()

	ok, reason := c.deduper.ShouldTrigger(accountID)
	if !ok {
		log.Printf("Relogin skipped for account %s: %s", accountID, reason)
		c.journal.Record(accountID, EventReloginSkipped, string(reason))
		return
	}

	account, err := c.directory.GetAccount(accountID)
	if err != nil || account == nil {
		log.Printf("Relogin aborted, account %s not loadable: %v", accountID, err)
		return
	}

	result := c.TriggerReLogin(account)
	log.Printf("Relogin trigger for account %s: method=%s state=%s reason=%s",
		accountID, result.Method, result.State, result.Reason)
}

// TriggerReLogin fires one re-login attempt for the account. Method follows
// the account's last successful login, defaulting to QR when unset. It does
// not retry internally; retries are left to the next sweep cycle or explicit
// user action.
func (c *ReloginCoordinator) TriggerReLogin(account *AccountInfo) *ReloginResult {
	method := account.LastLoginMethod
	if method == "" {
		method = models.LoginMethodQR
	}

	c.deduper.MarkTriggered(account.BrokerAccountID)
	c.journal.Record(account.BrokerAccountID, EventReloginTriggered, method)

	switch method {
	case models.LoginMethodSMS:
		return c.triggerSms(account)
	default:
		return c.triggerQR(account)
	}
}

func (c *ReloginCoordinator) triggerSms(account *AccountInfo) *ReloginResult {
	challenge, err := c.registry.StartChallenge(account.Mobile)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return &ReloginResult{Method: models.LoginMethodSMS, State: ReloginFailed, Reason: "resend cooldown active"}
		}
		return &ReloginResult{Method: models.LoginMethodSMS, State: ReloginFailed, Reason: err.Error()}
	}

	if challenge.CaptchaPending {
		c.notify(account.UserID, "Re-login needs your help",
			fmt.Sprintf("Account %s was signed out. A captcha must be solved before the SMS code can be sent.", account.BrokerAccountID))
		return &ReloginResult{Triggered: true, Method: models.LoginMethodSMS, State: ReloginSmsCaptchaPending}
	}

	c.notify(account.UserID, "Re-login code sent",
		fmt.Sprintf("Account %s was signed out. Enter the SMS verification code to restore the session.", account.BrokerAccountID))
	return &ReloginResult{Triggered: true, Method: models.LoginMethodSMS, State: ReloginSmsCodeSent}
}

func (c *ReloginCoordinator) triggerQR(account *AccountInfo) *ReloginResult {
	qr, err := c.gateway.NewQRLogin()
	if err != nil {
		return &ReloginResult{Method: models.LoginMethodQR, State: ReloginFailed, Reason: err.Error()}
	}

	c.notify(account.UserID, "Scan to re-login",
		fmt.Sprintf("Account %s was signed out. Scan the QR code in the app to restore the session.", account.BrokerAccountID))

	c.wg.Add(1)
	go c.pollQRLogin(account, qr)

	return &ReloginResult{Triggered: true, Method: models.LoginMethodQR, State: ReloginQRDispatched}
}

// pollQRLogin waits for the user to confirm the QR scan and finalizes the
// session when they do. Runs detached from the triggering call.
func (c *ReloginCoordinator) pollQRLogin(account *AccountInfo, qr QRLogin) {
	defer c.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("QR poll panic for account %s: %v", account.BrokerAccountID, rec)
		}
	}()

	ticker := time.NewTicker(c.qrPollInterval)
	defer ticker.Stop()
	deadline := time.After(c.qrPollTimeout)

	for {
		select {
		case <-c.stopChan:
			return
		case <-deadline:
			log.Printf("QR re-login for account %s not confirmed in time", account.BrokerAccountID)
			c.journal.Record(account.BrokerAccountID, EventReloginFailed, "qr poll timeout")
			return
		case <-ticker.C:
			state, session, err := qr.Poll()
			if err != nil {
				log.Printf("QR poll error for account %s: %v", account.BrokerAccountID, err)
				continue
			}
			switch state {
			case QRConfirmed:
				if session.BrokerAccountID == "" {
					session.BrokerAccountID = account.BrokerAccountID
				}
				if err := c.FinalizeLogin(account.UserID, session); err != nil {
					log.Printf("QR re-login finalize failed for account %s: %v", account.BrokerAccountID, err)
				}
				return
			case QRExpired:
				log.Printf("QR re-login for account %s expired before scan", account.BrokerAccountID)
				c.journal.Record(account.BrokerAccountID, EventReloginFailed, "qr expired")
				return
			}
		}
	}
}

// FinalizeLogin persists a fresh platform session, stamps the account's
// login method, and dispatches the success notification. Notification
// failures are logged and swallowed, never fatal to the login result.
func (c *ReloginCoordinator) FinalizeLogin(userID uint, platformSession *PlatformSession) error {
	session := &Session{
		BrokerAccountID: platformSession.BrokerAccountID,
		CookieBlob:      platformSession.CookieBlob,
		Method:          platformSession.Method,
		CreatedAt:       platformSession.CreatedAt,
		LastValidatedAt: time.Now(),
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	if err := c.store.Put(session); err != nil {
		return fmt.Errorf("persist session for account %s: %w", session.BrokerAccountID, err)
	}

	if err := c.directory.RecordLogin(session.BrokerAccountID, session.Method); err != nil {
		log.Printf("Failed to record login method for account %s: %v", session.BrokerAccountID, err)
	}

	c.journal.Record(session.BrokerAccountID, EventLoginSuccess, session.Method)
	c.notify(userID, "Session restored",
		fmt.Sprintf("Account %s is signed in again via %s.", session.BrokerAccountID, session.Method))

	log.Printf("Session stored for account %s (method %s)", session.BrokerAccountID, session.Method)
	return nil
}

func (c *ReloginCoordinator) notify(userID uint, title, body string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(userID, title, body); err != nil {
		log.Printf("Notification to user %d failed: %v", userID, err)
	}
}
