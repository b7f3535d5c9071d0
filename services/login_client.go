package services

import (
	"time"

	"github.com/shopspring/decimal"
)

// SendStatus is the outcome of a verification-code send attempt
type SendStatus int

const (
	SendOK SendStatus = iota
	SendCaptchaRequired
	SendRejected
)

// SendResult is returned by the login client for every send attempt.
// When the platform demands a slider captcha, CaptchaImage and
// CaptchaTrackWidth carry what a human solver needs.
type SendResult struct {
	Status            SendStatus
	Reason            string
	CaptchaImage      string // base64 PNG of the slider puzzle
	CaptchaTrackWidth int
}

// PlatformSession is the credential blob issued by the broker platform on a
// successful login. CookieBlob is opaque to everything except the platform
// client itself.
type PlatformSession struct {
	BrokerAccountID string    `json:"broker_account_id"`
	CookieBlob      string    `json:"cookie_blob"`
	Method          string    `json:"method"` // sms or qr
	CreatedAt       time.Time `json:"created_at"`
}

// QRState is the lifecycle state of a QR login attempt
type QRState int

const (
	QRWaiting QRState = iota
	QRScanned
	QRConfirmed
	QRExpired
)

// LoginClient is one SMS login handshake against the broker platform. A
// client is bound to a mobile number and a device identity; it lives inside
// an SmsChallenge for the duration of the handshake.
type LoginClient interface {
	// InitDeviceIdentity registers a device fingerprint and obtains the
	// pre-login cookies the platform requires before any send.
	InitDeviceIdentity() error

	// SendAutoVerification asks the platform to send the SMS code without
	// human help. The platform may answer with a captcha demand instead.
	SendAutoVerification() (*SendResult, error)

	// SendWithCaptcha retries the send with a human-solved slider coordinate.
	SendWithCaptcha(x, trackWidth int) (*SendResult, error)

	// VerifySmsCode completes the login with the code the user received.
	VerifySmsCode(code string) (*PlatformSession, error)
}

// QRLogin is one QR-scan login attempt. The caller shows ImageBase64 to the
// user and polls until the state is terminal.
type QRLogin interface {
	SessionID() string
	ImageBase64() string
	Poll() (QRState, *PlatformSession, error)
}

// Position is one holding reported by the broker platform
type Position struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Quantity    int64           `json:"quantity"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	MarketPrice decimal.Decimal `json:"market_price"`
	MarketValue decimal.Decimal `json:"market_value"`
	ProfitLoss  decimal.Decimal `json:"profit_loss"`
}

// Balance is the account funds snapshot reported by the broker platform
type Balance struct {
	TotalAssets    decimal.Decimal `json:"total_assets"`
	AvailableFunds decimal.Decimal `json:"available_funds"`
	FrozenFunds    decimal.Decimal `json:"frozen_funds"`
	MarketValue    decimal.Decimal `json:"market_value"`
}

// PlatformGateway is everything the session lifecycle needs from the broker
// platform. The HTTP implementation lives in services/broker; tests supply
// fakes.
type PlatformGateway interface {
	NewLoginClient(mobile string) LoginClient
	NewQRLogin() (QRLogin, error)

	// ValidateSession reports whether the platform still accepts the cookie
	// blob. A transport error is an error, not a verdict.
	ValidateSession(cookieBlob string) (bool, error)

	// QueryPositions and QueryBalance are authenticated platform calls. Both
	// return ErrPlatformUnauthorized when the session is no longer accepted.
	QueryPositions(cookieBlob string) ([]Position, error)
	QueryBalance(cookieBlob string) (*Balance, error)
}
