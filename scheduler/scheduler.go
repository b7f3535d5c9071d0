package scheduler

import (
	"log"
	"time"

	"broker_backend_project/services"

	"github.com/go-co-op/gocron"
)

// Scheduler manages the background jobs of the session lifecycle: the
// periodic session sweep, handshake eviction, and data retention.
type Scheduler struct {
	cron       *gocron.Scheduler
	sweeper    *services.ConcurrentSweeper
	registry   *services.SmsChallengeRegistry
	qrRegistry *services.QRLoginRegistry
	reports    *services.SweepReportStore
	journal    *services.AuditJournal
	calendar   services.TradingCalendar

	sweepInterval time.Duration
}

// NewScheduler creates a new scheduler instance
func NewScheduler(
	sweeper *services.ConcurrentSweeper,
	registry *services.SmsChallengeRegistry,
	qrRegistry *services.QRLoginRegistry,
	reports *services.SweepReportStore,
	journal *services.AuditJournal,
	calendar services.TradingCalendar,
	sweepInterval time.Duration,
) *Scheduler {
	return &Scheduler{
		cron:          gocron.NewScheduler(time.Local),
		sweeper:       sweeper,
		registry:      registry,
		qrRegistry:    qrRegistry,
		reports:       reports,
		journal:       journal,
		calendar:      calendar,
		sweepInterval: sweepInterval,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Sweep stored sessions periodically on trading days
	sweepMinutes := int(s.sweepInterval.Minutes())
	if sweepMinutes < 1 {
		sweepMinutes = 10
	}
	s.cron.Every(sweepMinutes).Minutes().Do(func() {
		s.runSessionSweep()
	})

	// Evict expired login handshakes every minute
	s.cron.Every(1).Minute().Do(func() {
		s.registry.SweepExpired()
		s.qrRegistry.SweepExpired()
	})

	// Cleanup old audit and report data weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runSessionSweep runs one sweep cycle and archives its report. Non-trading
// days are skipped: the platform expires sessions anyway and nobody is
// around to finish an SMS handshake.
func (s *Scheduler) runSessionSweep() {
	if !s.calendar.IsTradingDay(time.Now()) {
		log.Println("Skipping session sweep, not a trading day")
		return
	}

	stats := s.sweeper.RunSweepCycle()
	if s.reports != nil {
		s.reports.SaveReport(stats)
	}
}

// cleanupOldData prunes audit events older than 30 days and sweep reports
// older than 90 days
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old data...")

	if s.journal != nil {
		if pruned, err := s.journal.PruneBefore(time.Now().AddDate(0, 0, -30)); err != nil {
			log.Printf("Error pruning audit events: %v", err)
		} else if pruned > 0 {
			log.Printf("Pruned %d old audit events", pruned)
		}
	}

	if s.reports != nil {
		s.reports.DeleteOlderThan(time.Now().AddDate(0, 0, -90))
	}
}
