package services

import (
	"testing"
	"time"

	"broker_backend_project/models"

	"github.com/stretchr/testify/require"
)

type sweepFixture struct {
	gateway   *fakeGateway
	directory *fakeDirectory
	store     *SessionStore
	deduper   *ReloginDeduper
	sweeper   *ConcurrentSweeper
	notifier  *fakeNotifier
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	cache, _ := newTestCache(t)
	gateway := newFakeGateway()
	directory := newFakeDirectory()
	store := NewSessionStore(cache, time.Hour)
	registry := NewSmsChallengeRegistry(gateway, 0, 0)
	deduper := newTestDeduper(t, cache, directory)
	notifier := &fakeNotifier{}
	coordinator := NewReloginCoordinator(store, registry, gateway, directory, deduper, notifier, nil)
	sweeper := NewConcurrentSweeper(directory, store, NewSessionValidator(store, gateway), deduper, coordinator, nil, 3)
	return &sweepFixture{
		gateway:   gateway,
		directory: directory,
		store:     store,
		deduper:   deduper,
		sweeper:   sweeper,
		notifier:  notifier,
	}
}

// addSwept registers an active account with a stored session
func (f *sweepFixture) addSwept(t *testing.T, id string, valid bool) {
	t.Helper()
	account := eligibleAccount(id)
	account.Mobile = "138000" + id
	f.directory.addAccount(account, true)
	blob := "blob-" + id
	require.NoError(t, f.store.Put(&Session{BrokerAccountID: id, CookieBlob: blob}))
	if valid {
		f.gateway.markValid(blob)
	}
}

func TestSweepAllValid(t *testing.T) {
	f := newSweepFixture(t)
	f.addSwept(t, "acc-1", true)
	f.addSwept(t, "acc-2", true)

	stats := f.sweeper.RunSweepCycle()
	require.Equal(t, 2, stats.Accounts)
	require.Equal(t, 2, stats.Valid)
	require.Equal(t, 0, stats.Checked)
	require.Equal(t, 0, stats.Errors)
}

func TestSweepOnlySessionsParticipate(t *testing.T) {
	f := newSweepFixture(t)
	f.addSwept(t, "acc-1", true)
	// Active account without a stored session stays out of the cycle
	f.directory.addAccount(eligibleAccount("acc-no-session"), true)

	stats := f.sweeper.RunSweepCycle()
	require.Equal(t, 1, stats.Accounts)
	require.Equal(t, 1, stats.Valid)
}

func TestSweepInvalidTriggersRelogin(t *testing.T) {
	f := newSweepFixture(t)
	f.addSwept(t, "acc-1", false)

	stats := f.sweeper.RunSweepCycle()
	require.Equal(t, 1, stats.Accounts)
	require.Equal(t, 0, stats.Valid)
	require.Equal(t, 1, stats.Checked)
	require.Equal(t, 1, stats.Relogin)
	require.Equal(t, 0, stats.Skipped)

	// The stale session was dropped
	session, err := f.store.Get("acc-1")
	require.NoError(t, err)
	require.Nil(t, session)

	// The SMS re-login reached the user
	require.Equal(t, 1, f.notifier.count())
}

func TestSweepInvalidSkipped(t *testing.T) {
	f := newSweepFixture(t)
	f.addSwept(t, "acc-1", false)
	// Already triggered inside the dedup window
	f.deduper.MarkTriggered("acc-1")

	stats := f.sweeper.RunSweepCycle()
	require.Equal(t, 1, stats.Checked)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 0, stats.Relogin)
}

func TestSweepTriggerFailureCountsError(t *testing.T) {
	f := newSweepFixture(t)
	account := eligibleAccount("acc-1")
	account.LastLoginMethod = models.LoginMethodSMS
	f.directory.addAccount(account, true)
	require.NoError(t, f.store.Put(&Session{BrokerAccountID: "acc-1", CookieBlob: "stale"}))
	f.gateway.clients[account.Mobile] = &fakeLoginClient{
		mobile:      account.Mobile,
		sendResults: []*SendResult{{Status: SendRejected, Reason: "number blocked"}},
	}

	stats := f.sweeper.RunSweepCycle()
	require.Equal(t, 1, stats.Accounts)
	require.Equal(t, 1, stats.Errors)
	require.Equal(t, 0, stats.Checked)
}

func TestSweepCounterIdentities(t *testing.T) {
	f := newSweepFixture(t)
	f.addSwept(t, "acc-1", true)
	f.addSwept(t, "acc-2", true)
	f.addSwept(t, "acc-3", false)
	f.addSwept(t, "acc-4", false)
	f.deduper.MarkTriggered("acc-4")

	stats := f.sweeper.RunSweepCycle()

	require.Equal(t, 4, stats.Accounts)
	require.Equal(t, stats.Relogin+stats.Skipped, stats.Checked)
	require.Equal(t, stats.Accounts, stats.Valid+stats.Checked+stats.Errors)
	require.Equal(t, 2, stats.Valid)
	require.Equal(t, 1, stats.Relogin)
	require.Equal(t, 1, stats.Skipped)
}
