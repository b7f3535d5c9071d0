package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"broker_backend_project/services"

	"github.com/google/uuid"
)

// Platform call timeout. A hung platform call must never stall a sweep
// worker slot longer than this.
const requestTimeout = 10 * time.Second

// Client talks to the broker platform's web API. It implements
// services.PlatformGateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a platform client for the given base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// errorResponse is the platform's generic error body
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// postJSON sends a JSON payload and decodes the response into out. A nil
// out discards the body. Non-2xx statuses become errors, with 401 mapped to
// services.ErrPlatformUnauthorized.
func (c *Client) postJSON(path string, payload interface{}, auth string, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}

	return c.do(req, out)
}

// getJSON sends a GET and decodes the response into out
func (c *Client) getJSON(path, auth string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return services.ErrPlatformUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var platformErr errorResponse
		if json.Unmarshal(data, &platformErr) == nil && platformErr.Message != "" {
			return fmt.Errorf("platform error (%d): %s", resp.StatusCode, platformErr.Message)
		}
		return fmt.Errorf("platform error (%d): %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}

// ValidateSession asks the platform whether the cookie blob is still
// accepted. A 401 is a clean "no"; anything else unexpected is an error for
// the caller to interpret fail-closed.
func (c *Client) ValidateSession(cookieBlob string) (bool, error) {
	err := c.getJSON("/api/v2/session/check", cookieBlob, nil)
	if err == services.ErrPlatformUnauthorized {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// positionsResponse is the platform's holdings payload
type positionsResponse struct {
	Positions []services.Position `json:"positions"`
}

// QueryPositions fetches the account's holdings
func (c *Client) QueryPositions(cookieBlob string) ([]services.Position, error) {
	var resp positionsResponse
	if err := c.getJSON("/api/v2/account/positions", cookieBlob, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// QueryBalance fetches the account's funds snapshot
func (c *Client) QueryBalance(cookieBlob string) (*services.Balance, error) {
	var balance services.Balance
	if err := c.getJSON("/api/v2/account/balance", cookieBlob, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// NewLoginClient creates an SMS login handshake bound to the mobile number
func (c *Client) NewLoginClient(mobile string) services.LoginClient {
	return &smsLogin{
		client:   c,
		mobile:   mobile,
		deviceID: uuid.NewString(),
	}
}

// smsLogin is one SMS handshake. The device token obtained by
// InitDeviceIdentity authenticates every later step of the same handshake.
type smsLogin struct {
	client      *Client
	mobile      string
	deviceID    string
	deviceToken string
}

type deviceRegisterResponse struct {
	DeviceToken string `json:"device_token"`
}

// InitDeviceIdentity registers a device fingerprint with the platform
func (l *smsLogin) InitDeviceIdentity() error {
	payload := map[string]string{
		"device_id": l.deviceID,
		"mobile":    l.mobile,
		"platform":  "web",
	}

	var resp deviceRegisterResponse
	if err := l.client.postJSON("/api/v2/device/register", payload, "", &resp); err != nil {
		return fmt.Errorf("device register: %w", err)
	}
	if resp.DeviceToken == "" {
		return fmt.Errorf("device register: empty device token")
	}
	l.deviceToken = resp.DeviceToken
	return nil
}

type smsSendResponse struct {
	Status       string `json:"status"` // sent, captcha_required, failed
	Reason       string `json:"reason"`
	CaptchaImage string `json:"captcha_image"`
	TrackWidth   int    `json:"track_width"`
}

func (r *smsSendResponse) toResult() *services.SendResult {
	switch r.Status {
	case "sent":
		return &services.SendResult{Status: services.SendOK}
	case "captcha_required":
		return &services.SendResult{
			Status:            services.SendCaptchaRequired,
			CaptchaImage:      r.CaptchaImage,
			CaptchaTrackWidth: r.TrackWidth,
		}
	default:
		return &services.SendResult{Status: services.SendRejected, Reason: r.Reason}
	}
}

// SendAutoVerification asks the platform to send the SMS code
func (l *smsLogin) SendAutoVerification() (*services.SendResult, error) {
	payload := map[string]string{
		"mobile":       l.mobile,
		"device_token": l.deviceToken,
	}

	var resp smsSendResponse
	if err := l.client.postJSON("/api/v2/login/sms/send", payload, "", &resp); err != nil {
		return nil, fmt.Errorf("sms send: %w", err)
	}
	return resp.toResult(), nil
}

// SendWithCaptcha retries the send with a solved slider coordinate
func (l *smsLogin) SendWithCaptcha(x, trackWidth int) (*services.SendResult, error) {
	payload := map[string]interface{}{
		"mobile":       l.mobile,
		"device_token": l.deviceToken,
		"captcha_x":    x,
		"track_width":  trackWidth,
	}

	var resp smsSendResponse
	if err := l.client.postJSON("/api/v2/login/sms/send", payload, "", &resp); err != nil {
		return nil, fmt.Errorf("sms send with captcha: %w", err)
	}
	return resp.toResult(), nil
}

type smsVerifyResponse struct {
	AccountID    string `json:"account_id"`
	SessionToken string `json:"session_token"`
}

// VerifySmsCode completes the login with the code the user received
func (l *smsLogin) VerifySmsCode(code string) (*services.PlatformSession, error) {
	payload := map[string]string{
		"mobile":       l.mobile,
		"device_token": l.deviceToken,
		"code":         code,
	}

	var resp smsVerifyResponse
	if err := l.client.postJSON("/api/v2/login/sms/verify", payload, "", &resp); err != nil {
		return nil, fmt.Errorf("sms verify: %w", err)
	}
	if resp.SessionToken == "" {
		return nil, fmt.Errorf("sms verify: platform returned no session token")
	}

	return &services.PlatformSession{
		BrokerAccountID: resp.AccountID,
		CookieBlob:      resp.SessionToken,
		Method:          "sms",
		CreatedAt:       time.Now(),
	}, nil
}

type qrCreateResponse struct {
	QRID  string `json:"qr_id"`
	Image string `json:"image"`
}

type qrStatusResponse struct {
	Status       string `json:"status"` // waiting, scanned, confirmed, expired
	AccountID    string `json:"account_id"`
	SessionToken string `json:"session_token"`
}

// NewQRLogin starts a QR-scan login attempt
func (c *Client) NewQRLogin() (services.QRLogin, error) {
	var resp qrCreateResponse
	if err := c.postJSON("/api/v2/login/qr/create", map[string]string{"platform": "web"}, "", &resp); err != nil {
		return nil, fmt.Errorf("qr create: %w", err)
	}
	if resp.QRID == "" {
		return nil, fmt.Errorf("qr create: empty qr id")
	}
	return &qrLogin{client: c, id: resp.QRID, image: resp.Image}, nil
}

// qrLogin is one QR-scan attempt
type qrLogin struct {
	client *Client
	id     string
	image  string
}

func (q *qrLogin) SessionID() string   { return q.id }
func (q *qrLogin) ImageBase64() string { return q.image }

// Poll asks the platform where the scan stands
func (q *qrLogin) Poll() (services.QRState, *services.PlatformSession, error) {
	var resp qrStatusResponse
	if err := q.client.getJSON("/api/v2/login/qr/"+q.id+"/status", "", &resp); err != nil {
		return services.QRWaiting, nil, fmt.Errorf("qr poll: %w", err)
	}

	switch resp.Status {
	case "scanned":
		return services.QRScanned, nil, nil
	case "confirmed":
		if resp.SessionToken == "" {
			return services.QRWaiting, nil, fmt.Errorf("qr confirmed without session token")
		}
		return services.QRConfirmed, &services.PlatformSession{
			BrokerAccountID: resp.AccountID,
			CookieBlob:      resp.SessionToken,
			Method:          "qr",
			CreatedAt:       time.Now(),
		}, nil
	case "expired":
		return services.QRExpired, nil, nil
	default:
		return services.QRWaiting, nil, nil
	}
}
