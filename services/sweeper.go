package services

import (
	"log"
	"sync"
	"time"
)

// SweepStats aggregates one sweep cycle. Valid plus the invalid accounts
// (Checked + Errors) equals the number of accounts that held a stored
// session; Checked always equals Relogin + Skipped.
type SweepStats struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Accounts   int       `json:"accounts"`
	Valid      int       `json:"valid"`
	Checked    int       `json:"checked"`
	Relogin    int       `json:"relogin"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
}

// reloginTrigger is the synchronous trigger surface the sweeper awaits
type reloginTrigger interface {
	TriggerReLogin(account *AccountInfo) *ReloginResult
}

// ConcurrentSweeper fans the session validity check out across all accounts
// holding a stored session and triggers deduped re-logins for the invalid
// ones. Unlike the reactive gate it awaits each outcome so the cycle's
// counters are accurate.
type ConcurrentSweeper struct {
	directory   AccountDirectory
	store       *SessionStore
	validator   *SessionValidator
	deduper     *ReloginDeduper
	coordinator reloginTrigger
	journal     *AuditJournal
	concurrency int
}

// NewConcurrentSweeper creates a sweeper. Concurrency below 1 falls back to
// the default of 5 workers. journal may be nil.
func NewConcurrentSweeper(
	directory AccountDirectory,
	store *SessionStore,
	validator *SessionValidator,
	deduper *ReloginDeduper,
	coordinator reloginTrigger,
	journal *AuditJournal,
	concurrency int,
) *ConcurrentSweeper {
	if concurrency < 1 {
		concurrency = 5
	}
	return &ConcurrentSweeper{
		directory:   directory,
		store:       store,
		validator:   validator,
		deduper:     deduper,
		coordinator: coordinator,
		journal:     journal,
		concurrency: concurrency,
	}
}

// RunSweepCycle validates every stored session and remediates the invalid
// ones. A single account's failure is caught, counted, and never aborts the
// rest of the batch.
func (s *ConcurrentSweeper) RunSweepCycle() SweepStats {
	stats := SweepStats{StartedAt: time.Now()}

	accounts, err := s.directory.ListActiveAccounts()
	if err != nil {
		log.Printf("Sweep aborted, cannot list accounts: %v", err)
		stats.FinishedAt = time.Now()
		return stats
	}

	// Only accounts that actually hold a stored session take part.
	withSession := make([]AccountInfo, 0, len(accounts))
	for _, account := range accounts {
		session, err := s.store.Get(account.BrokerAccountID)
		if err != nil {
			log.Printf("Sweep session lookup failed for %s: %v", account.BrokerAccountID, err)
			continue
		}
		if session != nil {
			withSession = append(withSession, account)
		}
	}
	stats.Accounts = len(withSession)

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan AccountInfo)

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range jobs {
				s.sweepAccount(account, &mu, &stats)
			}
		}()
	}

	for _, account := range withSession {
		jobs <- account
	}
	close(jobs)
	wg.Wait()

	stats.FinishedAt = time.Now()
	log.Printf("Sweep cycle done: accounts=%d valid=%d checked=%d relogin=%d skipped=%d errors=%d (%.1fs)",
		stats.Accounts, stats.Valid, stats.Checked, stats.Relogin, stats.Skipped, stats.Errors,
		stats.FinishedAt.Sub(stats.StartedAt).Seconds())
	return stats
}

// sweepAccount handles one account inside a worker slot. Panics and trigger
// failures are downgraded to the error counter.
func (s *ConcurrentSweeper) sweepAccount(account AccountInfo, mu *sync.Mutex, stats *SweepStats) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Sweep panic for account %s: %v", account.BrokerAccountID, rec)
			mu.Lock()
			stats.Errors++
			mu.Unlock()
		}
	}()

	if s.validator.IsValid(account.BrokerAccountID) {
		mu.Lock()
		stats.Valid++
		mu.Unlock()
		return
	}

	// Invalid: same invalidate -> dedupe -> coordinate sequence as the
	// reactive gate, but awaited.
	if err := s.store.Delete(account.BrokerAccountID); err != nil {
		log.Printf("Sweep failed to delete session for %s: %v", account.BrokerAccountID, err)
	}
	s.journal.Record(account.BrokerAccountID, EventSessionInvalidated, "sweep found invalid")

	ok, reason := s.deduper.ShouldTrigger(account.BrokerAccountID)
	if !ok {
		log.Printf("Sweep skip for account %s: %s", account.BrokerAccountID, reason)
		s.journal.Record(account.BrokerAccountID, EventReloginSkipped, string(reason))
		mu.Lock()
		stats.Checked++
		stats.Skipped++
		mu.Unlock()
		return
	}

	result := s.coordinator.TriggerReLogin(&account)
	mu.Lock()
	if result.Triggered {
		stats.Checked++
		stats.Relogin++
	} else {
		stats.Errors++
	}
	mu.Unlock()

	if !result.Triggered {
		log.Printf("Sweep trigger failed for account %s: %s", account.BrokerAccountID, result.Reason)
		s.journal.Record(account.BrokerAccountID, EventReloginFailed, result.Reason)
	}
}
