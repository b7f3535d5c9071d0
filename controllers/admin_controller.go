package controllers

import (
	"net/http"
	"strconv"

	"broker_backend_project/services"

	"github.com/gin-gonic/gin"
)

// AdminController exposes operational endpoints: manual sweep runs, sweep
// history, and the per-account audit trail.
type AdminController struct {
	sweeper *services.ConcurrentSweeper
	reports *services.SweepReportStore
	journal *services.AuditJournal
	session *SessionController
}

// NewAdminController creates a new admin controller
func NewAdminController(
	sweeper *services.ConcurrentSweeper,
	reports *services.SweepReportStore,
	journal *services.AuditJournal,
	session *SessionController,
) *AdminController {
	return &AdminController{sweeper: sweeper, reports: reports, journal: journal, session: session}
}

// RunSweep triggers a sweep cycle immediately and returns its stats
// POST /api/v1/admin/sweep
func (ac *AdminController) RunSweep(c *gin.Context) {
	stats := ac.sweeper.RunSweepCycle()
	if ac.reports != nil {
		ac.reports.SaveReport(stats)
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GetSweepReports returns recent sweep cycle reports
// GET /api/v1/admin/sweep/reports
func (ac *AdminController) GetSweepReports(c *gin.Context) {
	if ac.reports == nil || !ac.reports.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sweep report archive not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	reports, err := ac.reports.RecentReports(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sweep reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": reports})
}

// GetAccountEvents returns the audit trail for one broker account
// GET /api/v1/accounts/:account_id/events
func (ac *AdminController) GetAccountEvents(c *gin.Context) {
	account, ok := ac.session.ownedAccount(c, c.Param("account_id"))
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := ac.journal.RecentEvents(account.BrokerAccountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
