package services

import "errors"

// Error signals exposed to the rest of the application. Callers translate
// these into user-facing responses; the session services never retry
// internally on any of them.
var (
	// ErrSessionExpired is the authoritative signal that a broker session is
	// gone and a re-login is required.
	ErrSessionExpired = errors.New("broker session expired")

	// ErrRateLimited means a verification code resend was requested inside
	// the cooldown window. The caller should wait and retry.
	ErrRateLimited = errors.New("verification code resend inside cooldown")

	// ErrNoCaptchaPending means a captcha coordinate was submitted for a
	// challenge that does not require one.
	ErrNoCaptchaPending = errors.New("no captcha pending for challenge")

	// ErrCaptchaRejected means the platform rejected the submitted slider
	// coordinate. The challenge stays captcha-pending so the caller may retry.
	ErrCaptchaRejected = errors.New("captcha coordinate rejected")

	// ErrSendFailed means the platform refused to send the verification code
	// for a reason other than a captcha demand.
	ErrSendFailed = errors.New("verification code send failed")

	// ErrPlatformUnauthorized is the platform's 401-equivalent. AuthGate
	// translates it into ErrSessionExpired for callers.
	ErrPlatformUnauthorized = errors.New("broker platform rejected credentials")
)
