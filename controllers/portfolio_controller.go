package controllers

import (
	"errors"
	"net/http"

	"broker_backend_project/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PortfolioController serves account data queried live from the broker
// platform. Every query goes through the auth gate, so a platform-side
// logout surfaces as a 401 here while a background re-login fires.
type PortfolioController struct {
	db      *gorm.DB
	gate    *services.AuthGate
	gateway services.PlatformGateway
	session *SessionController
}

// NewPortfolioController creates a new portfolio controller
func NewPortfolioController(db *gorm.DB, gate *services.AuthGate, gateway services.PlatformGateway, session *SessionController) *PortfolioController {
	return &PortfolioController{db: db, gate: gate, gateway: gateway, session: session}
}

// GetPositions returns the account's current holdings
// GET /api/v1/accounts/:account_id/positions
func (pc *PortfolioController) GetPositions(c *gin.Context) {
	account, ok := pc.session.ownedAccount(c, c.Param("account_id"))
	if !ok {
		return
	}

	var positions []services.Position
	err := pc.gate.Wrap(account.BrokerAccountID, func(session *services.Session) error {
		var qErr error
		positions, qErr = pc.gateway.QueryPositions(session.CookieBlob)
		return qErr
	})
	if err != nil {
		pc.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// GetBalance returns the account's funds snapshot
// GET /api/v1/accounts/:account_id/balance
func (pc *PortfolioController) GetBalance(c *gin.Context) {
	account, ok := pc.session.ownedAccount(c, c.Param("account_id"))
	if !ok {
		return
	}

	var balance *services.Balance
	err := pc.gate.Wrap(account.BrokerAccountID, func(session *services.Session) error {
		var qErr error
		balance, qErr = pc.gateway.QueryBalance(session.CookieBlob)
		return qErr
	})
	if err != nil {
		pc.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

// renderQueryError maps platform query failures to HTTP responses
func (pc *PortfolioController) renderQueryError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrSessionExpired) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "session_expired",
			"message": "Broker session expired. A re-login has been requested.",
		})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "Platform query failed", "detail": err.Error()})
}
