package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestCache spins up an in-process redis and returns a store backed by it
func newTestCache(t *testing.T) (*RedisCacheStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheStore(client), mr
}

// fakeLoginClient scripts the SMS handshake steps
type fakeLoginClient struct {
	mobile string

	initErr     error
	sendResults []*SendResult
	sendErr     error
	sendCalls   int

	captchaResult *SendResult
	captchaErr    error
	captchaCalls  int

	verifySession *PlatformSession
	verifyErr     error
}

func (f *fakeLoginClient) InitDeviceIdentity() error { return f.initErr }

func (f *fakeLoginClient) SendAutoVerification() (*SendResult, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if len(f.sendResults) > 0 {
		result := f.sendResults[0]
		if len(f.sendResults) > 1 {
			f.sendResults = f.sendResults[1:]
		}
		return result, nil
	}
	return &SendResult{Status: SendOK}, nil
}

func (f *fakeLoginClient) SendWithCaptcha(x, trackWidth int) (*SendResult, error) {
	f.captchaCalls++
	if f.captchaErr != nil {
		return nil, f.captchaErr
	}
	if f.captchaResult != nil {
		return f.captchaResult, nil
	}
	return &SendResult{Status: SendOK}, nil
}

func (f *fakeLoginClient) VerifySmsCode(code string) (*PlatformSession, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if f.verifySession != nil {
		return f.verifySession, nil
	}
	return &PlatformSession{
		BrokerAccountID: "acc-" + f.mobile,
		CookieBlob:      "cookie-" + code,
		Method:          "sms",
		CreatedAt:       time.Now(),
	}, nil
}

// fakeQRLogin scripts a QR-scan attempt
type fakeQRLogin struct {
	id      string
	image   string
	states  []QRState
	session *PlatformSession
	pollErr error
	polls   int
}

func (f *fakeQRLogin) SessionID() string   { return f.id }
func (f *fakeQRLogin) ImageBase64() string { return f.image }

func (f *fakeQRLogin) Poll() (QRState, *PlatformSession, error) {
	f.polls++
	if f.pollErr != nil {
		return QRWaiting, nil, f.pollErr
	}
	if len(f.states) == 0 {
		return QRWaiting, nil, nil
	}
	state := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	if state == QRConfirmed {
		return state, f.session, nil
	}
	return state, nil, nil
}

// fakeGateway hands out the scripted clients above
type fakeGateway struct {
	mu sync.Mutex

	clients map[string]*fakeLoginClient
	qr      *fakeQRLogin
	qrErr   error

	validBlobs  map[string]bool
	validateErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		clients:    make(map[string]*fakeLoginClient),
		validBlobs: make(map[string]bool),
	}
}

func (g *fakeGateway) NewLoginClient(mobile string) LoginClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	if client, ok := g.clients[mobile]; ok {
		return client
	}
	client := &fakeLoginClient{mobile: mobile}
	g.clients[mobile] = client
	return client
}

func (g *fakeGateway) NewQRLogin() (QRLogin, error) {
	if g.qrErr != nil {
		return nil, g.qrErr
	}
	if g.qr != nil {
		return g.qr, nil
	}
	return &fakeQRLogin{id: "qr-1", image: "img"}, nil
}

func (g *fakeGateway) ValidateSession(cookieBlob string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.validateErr != nil {
		return false, g.validateErr
	}
	return g.validBlobs[cookieBlob], nil
}

func (g *fakeGateway) QueryPositions(cookieBlob string) ([]Position, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) QueryBalance(cookieBlob string) (*Balance, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) markValid(blob string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validBlobs[blob] = true
}

// fakeDirectory is an in-memory AccountDirectory
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]*AccountInfo
	users    map[uint]bool
	logins   []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		accounts: make(map[string]*AccountInfo),
		users:    make(map[uint]bool),
	}
}

func (d *fakeDirectory) addAccount(account AccountInfo, userActive bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := account
	d.accounts[account.BrokerAccountID] = &copied
	d.users[account.UserID] = userActive
}

func (d *fakeDirectory) GetAccount(brokerAccountID string) (*AccountInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	account, ok := d.accounts[brokerAccountID]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (d *fakeDirectory) ListActiveAccounts() ([]AccountInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []AccountInfo
	for _, account := range d.accounts {
		if account.IsActive {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (d *fakeDirectory) UserActive(userID uint) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[userID], nil
}

func (d *fakeDirectory) RecordLogin(brokerAccountID, method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins = append(d.logins, fmt.Sprintf("%s:%s", brokerAccountID, method))
	return nil
}

// fakeNotifier records dispatched notifications
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *fakeNotifier) Send(userID uint, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, fmt.Sprintf("%d:%s", userID, title))
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// fakeSubmitter records background trigger submissions for the gate
type fakeSubmitter struct {
	mu       sync.Mutex
	accounts []string
}

func (s *fakeSubmitter) Submit(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accountID)
	return true
}

func (s *fakeSubmitter) submissions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

// newTestDeduper builds a deduper over the given cache with everything
// eligible by default
func newTestDeduper(t *testing.T, cache CacheStore, directory AccountDirectory) *ReloginDeduper {
	t.Helper()
	require.NotNil(t, cache)
	return NewReloginDeduper(cache, directory, func() bool { return true }, time.Minute)
}
