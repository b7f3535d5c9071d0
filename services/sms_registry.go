package services

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Default handshake timing. Both can be overridden through the constructor.
const (
	DefaultSmsResendCooldown = 60 * time.Second
	DefaultChallengeTTL      = 300 * time.Second
	DefaultCaptchaTrackWidth = 340
)

// SmsChallenge is one in-flight SMS verification handshake. It owns the
// login client for its lifetime. CaptchaPending is true while the platform
// demands a slider captcha before it will send the code.
type SmsChallenge struct {
	Mobile            string
	Client            LoginClient
	SentAt            time.Time
	CaptchaPending    bool
	CaptchaImage      string
	CaptchaTrackWidth int
}

// SmsChallengeRegistry holds the in-flight handshakes keyed by mobile
// number. The map is the unit of locking: entries are created, read, and
// evicted atomically relative to each other, and network calls to the login
// client always happen outside the lock so one slow mobile cannot block the
// rest.
type SmsChallengeRegistry struct {
	mu         sync.Mutex
	challenges map[string]*SmsChallenge

	gateway        PlatformGateway
	resendCooldown time.Duration
	challengeTTL   time.Duration
}

// NewSmsChallengeRegistry creates a registry. Zero durations fall back to
// the defaults (60s resend cooldown, 300s challenge TTL).
func NewSmsChallengeRegistry(gateway PlatformGateway, resendCooldown, challengeTTL time.Duration) *SmsChallengeRegistry {
	if resendCooldown <= 0 {
		resendCooldown = DefaultSmsResendCooldown
	}
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}
	return &SmsChallengeRegistry{
		challenges:     make(map[string]*SmsChallenge),
		gateway:        gateway,
		resendCooldown: resendCooldown,
		challengeTTL:   challengeTTL,
	}
}

// StartChallenge begins a new SMS handshake for the mobile. It fails with
// ErrRateLimited when a challenge for the same mobile was sent inside the
// cooldown. When the platform demands a captcha the challenge is stored
// captcha-pending and returned without error so the caller can surface the
// slider imagery.
func (r *SmsChallengeRegistry) StartChallenge(mobile string) (*SmsChallenge, error) {
	r.mu.Lock()
	if existing, ok := r.challenges[mobile]; ok {
		if time.Since(existing.SentAt) < r.resendCooldown {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: mobile %s asked again %.0fs after last send",
				ErrRateLimited, maskMobile(mobile), time.Since(existing.SentAt).Seconds())
		}
		// Stale enough to restart; drop the old handshake.
		delete(r.challenges, mobile)
	}
	r.mu.Unlock()

	client := r.gateway.NewLoginClient(mobile)
	if err := client.InitDeviceIdentity(); err != nil {
		return nil, fmt.Errorf("%w: device identity init: %v", ErrSendFailed, err)
	}

	result, err := client.SendAutoVerification()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	challenge := &SmsChallenge{
		Mobile: mobile,
		Client: client,
		SentAt: time.Now(),
	}

	switch result.Status {
	case SendOK:
		// stored below with CaptchaPending=false
	case SendCaptchaRequired:
		challenge.CaptchaPending = true
		challenge.CaptchaImage = result.CaptchaImage
		challenge.CaptchaTrackWidth = result.CaptchaTrackWidth
		if challenge.CaptchaTrackWidth == 0 {
			challenge.CaptchaTrackWidth = DefaultCaptchaTrackWidth
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrSendFailed, result.Reason)
	}

	r.mu.Lock()
	r.challenges[mobile] = challenge
	r.mu.Unlock()

	if challenge.CaptchaPending {
		log.Printf("SMS challenge for %s needs captcha", maskMobile(mobile))
	} else {
		log.Printf("SMS code sent to %s", maskMobile(mobile))
	}
	return challenge, nil
}

// SubmitCaptcha submits the human-solved slider coordinate for a pending
// challenge. On platform rejection the challenge stays captcha-pending so
// the solver may retry with a better coordinate.
func (r *SmsChallengeRegistry) SubmitCaptcha(mobile string, x, trackWidth int) error {
	if trackWidth <= 0 {
		trackWidth = DefaultCaptchaTrackWidth
	}

	challenge := r.GetChallenge(mobile)
	if challenge == nil {
		return fmt.Errorf("%w: no SMS challenge for %s", ErrSessionExpired, maskMobile(mobile))
	}
	if !challenge.CaptchaPending {
		return fmt.Errorf("%w: mobile %s", ErrNoCaptchaPending, maskMobile(mobile))
	}

	result, err := challenge.Client.SendWithCaptcha(x, trackWidth)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaRejected, err)
	}

	switch result.Status {
	case SendOK:
		r.mu.Lock()
		if current, ok := r.challenges[mobile]; ok {
			current.CaptchaPending = false
			current.CaptchaImage = ""
			current.SentAt = time.Now()
		}
		r.mu.Unlock()
		log.Printf("Captcha accepted, SMS code sent to %s", maskMobile(mobile))
		return nil
	case SendCaptchaRequired:
		// Platform issued a fresh puzzle; keep pending with the new imagery.
		r.mu.Lock()
		if current, ok := r.challenges[mobile]; ok {
			current.CaptchaImage = result.CaptchaImage
			if result.CaptchaTrackWidth > 0 {
				current.CaptchaTrackWidth = result.CaptchaTrackWidth
			}
		}
		r.mu.Unlock()
		return fmt.Errorf("%w: platform issued a new puzzle", ErrCaptchaRejected)
	default:
		return fmt.Errorf("%w: %s", ErrCaptchaRejected, result.Reason)
	}
}

// VerifyCode completes the handshake with the SMS code the user received and
// returns the platform session. The challenge is removed on success.
func (r *SmsChallengeRegistry) VerifyCode(mobile, code string) (*PlatformSession, error) {
	challenge := r.GetChallenge(mobile)
	if challenge == nil {
		return nil, fmt.Errorf("%w: no SMS challenge for %s", ErrSessionExpired, maskMobile(mobile))
	}

	session, err := challenge.Client.VerifySmsCode(code)
	if err != nil {
		return nil, fmt.Errorf("verify SMS code for %s: %w", maskMobile(mobile), err)
	}

	r.RemoveChallenge(mobile)
	return session, nil
}

// GetChallenge returns the live challenge for the mobile, or nil. An entry
// older than the challenge TTL is evicted on read; expiry is wall-clock and
// checked lazily, there is no per-entry timer.
func (r *SmsChallengeRegistry) GetChallenge(mobile string) *SmsChallenge {
	r.mu.Lock()
	defer r.mu.Unlock()

	challenge, ok := r.challenges[mobile]
	if !ok {
		return nil
	}
	if time.Since(challenge.SentAt) > r.challengeTTL {
		delete(r.challenges, mobile)
		return nil
	}
	return challenge
}

// RemoveChallenge tears down the handshake for the mobile
func (r *SmsChallengeRegistry) RemoveChallenge(mobile string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.challenges, mobile)
}

// SweepExpired evicts all challenges past the TTL and returns how many were
// removed. Called periodically by the scheduler.
func (r *SmsChallengeRegistry) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for mobile, challenge := range r.challenges {
		if time.Since(challenge.SentAt) > r.challengeTTL {
			delete(r.challenges, mobile)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("Evicted %d expired SMS challenges", removed)
	}
	return removed
}

// maskMobile masks a mobile number for logging
func maskMobile(mobile string) string {
	if len(mobile) < 7 {
		return "***"
	}
	return mobile[:3] + "****" + mobile[len(mobile)-4:]
}
