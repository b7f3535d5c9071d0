package controllers

import (
	"errors"
	"net/http"

	"broker_backend_project/middleware"
	"broker_backend_project/models"
	"broker_backend_project/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SessionController drives the interactive login flows: the SMS handshake
// with its slider-captcha detour, the QR scan flow, and session inspection.
type SessionController struct {
	db          *gorm.DB
	store       *services.SessionStore
	registry    *services.SmsChallengeRegistry
	qrRegistry  *services.QRLoginRegistry
	gateway     services.PlatformGateway
	coordinator *services.ReloginCoordinator
	validator   *services.SessionValidator
}

// NewSessionController creates a new session controller
func NewSessionController(
	db *gorm.DB,
	store *services.SessionStore,
	registry *services.SmsChallengeRegistry,
	qrRegistry *services.QRLoginRegistry,
	gateway services.PlatformGateway,
	coordinator *services.ReloginCoordinator,
	validator *services.SessionValidator,
) *SessionController {
	return &SessionController{
		db:          db,
		store:       store,
		registry:    registry,
		qrRegistry:  qrRegistry,
		gateway:     gateway,
		coordinator: coordinator,
		validator:   validator,
	}
}

// ownedAccount loads a broker account and verifies the caller owns it
func (sc *SessionController) ownedAccount(c *gin.Context, brokerAccountID string) (*models.BrokerAccount, bool) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return nil, false
	}

	var account models.BrokerAccount
	dbErr := sc.db.Where("broker_account_id = ?", brokerAccountID).First(&account).Error
	if dbErr == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil, false
	}
	if dbErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch account"})
		return nil, false
	}

	var user models.User
	if err := sc.db.First(&user, userID).Error; err != nil || account.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account belongs to another user"})
		return nil, false
	}

	return &account, true
}

// SendSmsCode starts an SMS login handshake for the account
// POST /api/v1/sessions/sms/send
func (sc *SessionController) SendSmsCode(c *gin.Context) {
	var request struct {
		BrokerAccountID string `json:"broker_account_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok := sc.ownedAccount(c, request.BrokerAccountID)
	if !ok {
		return
	}
	if account.Mobile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Account has no mobile number on file"})
		return
	}

	challenge, err := sc.registry.StartChallenge(account.Mobile)
	if err != nil {
		if errors.Is(err, services.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "SMS resend cooldown active, try again later"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send SMS code", "detail": err.Error()})
		return
	}

	if challenge.CaptchaPending {
		c.JSON(http.StatusOK, gin.H{
			"status":        "captcha_required",
			"captcha_image": challenge.CaptchaImage,
			"track_width":   challenge.CaptchaTrackWidth,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "code_sent"})
}

// SubmitCaptcha submits a solved slider coordinate for a pending handshake
// POST /api/v1/sessions/sms/captcha
func (sc *SessionController) SubmitCaptcha(c *gin.Context) {
	var request struct {
		BrokerAccountID string `json:"broker_account_id" binding:"required"`
		X               int    `json:"x" binding:"required"`
		TrackWidth      int    `json:"track_width"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok := sc.ownedAccount(c, request.BrokerAccountID)
	if !ok {
		return
	}

	err := sc.registry.SubmitCaptcha(account.Mobile, request.X, request.TrackWidth)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "code_sent"})
	case errors.Is(err, services.ErrSessionExpired):
		c.JSON(http.StatusNotFound, gin.H{"error": "No SMS handshake in progress, request a new code"})
	case errors.Is(err, services.ErrNoCaptchaPending):
		c.JSON(http.StatusConflict, gin.H{"error": "No captcha pending for this handshake"})
	case errors.Is(err, services.ErrCaptchaRejected):
		// The handshake stays captcha-pending; return the fresh puzzle if any.
		resp := gin.H{"error": "Captcha rejected, try again"}
		if challenge := sc.registry.GetChallenge(account.Mobile); challenge != nil && challenge.CaptchaPending {
			resp["captcha_image"] = challenge.CaptchaImage
			resp["track_width"] = challenge.CaptchaTrackWidth
		}
		c.JSON(http.StatusUnprocessableEntity, resp)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Captcha submission failed", "detail": err.Error()})
	}
}

// VerifySmsCode completes the SMS handshake and stores the session
// POST /api/v1/sessions/sms/verify
func (sc *SessionController) VerifySmsCode(c *gin.Context) {
	var request struct {
		BrokerAccountID string `json:"broker_account_id" binding:"required"`
		Code            string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok := sc.ownedAccount(c, request.BrokerAccountID)
	if !ok {
		return
	}

	platformSession, err := sc.registry.VerifyCode(account.Mobile, request.Code)
	if err != nil {
		if errors.Is(err, services.ErrSessionExpired) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No SMS handshake in progress, request a new code"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Code verification failed", "detail": err.Error()})
		return
	}

	// The platform may not echo the account id back; bind it to the account
	// the user started the handshake for.
	if platformSession.BrokerAccountID == "" {
		platformSession.BrokerAccountID = account.BrokerAccountID
	}

	if err := sc.coordinator.FinalizeLogin(account.UserID, platformSession); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "logged_in",
		"broker_account_id": platformSession.BrokerAccountID,
		"method":            platformSession.Method,
	})
}

// CreateQRLogin starts a QR-scan login attempt for the account
// POST /api/v1/sessions/qr
func (sc *SessionController) CreateQRLogin(c *gin.Context) {
	var request struct {
		BrokerAccountID string `json:"broker_account_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok := sc.ownedAccount(c, request.BrokerAccountID)
	if !ok {
		return
	}

	qr, err := sc.gateway.NewQRLogin()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create QR login", "detail": err.Error()})
		return
	}

	sc.qrRegistry.Put(qr, account.UserID, account.BrokerAccountID)

	c.JSON(http.StatusOK, gin.H{
		"qr_session_id": qr.SessionID(),
		"image":         qr.ImageBase64(),
	})
}

// PollQRLogin reports the state of a QR-scan attempt, finalizing the session
// once the scan is confirmed
// GET /api/v1/sessions/qr/:qr_id
func (sc *SessionController) PollQRLogin(c *gin.Context) {
	qrID := c.Param("qr_id")

	qr, userID, accountID := sc.qrRegistry.Get(qrID)
	if qr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "QR login not found or expired"})
		return
	}

	state, platformSession, err := qr.Poll()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "QR poll failed", "detail": err.Error()})
		return
	}

	switch state {
	case services.QRConfirmed:
		sc.qrRegistry.Remove(qrID)
		if platformSession.BrokerAccountID == "" {
			platformSession.BrokerAccountID = accountID
		}
		if err := sc.coordinator.FinalizeLogin(userID, platformSession); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            "confirmed",
			"broker_account_id": platformSession.BrokerAccountID,
		})
	case services.QRScanned:
		c.JSON(http.StatusOK, gin.H{"status": "scanned"})
	case services.QRExpired:
		sc.qrRegistry.Remove(qrID)
		c.JSON(http.StatusOK, gin.H{"status": "expired"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "waiting"})
	}
}

// GetSessionStatus reports whether a stored session exists for the account,
// optionally validating it against the platform with ?check=true
// GET /api/v1/sessions/:account_id
func (sc *SessionController) GetSessionStatus(c *gin.Context) {
	account, ok := sc.ownedAccount(c, c.Param("account_id"))
	if !ok {
		return
	}

	session, err := sc.store.Get(account.BrokerAccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"logged_in": false})
		return
	}

	resp := gin.H{
		"logged_in":         true,
		"method":            session.Method,
		"created_at":        session.CreatedAt,
		"last_validated_at": session.LastValidatedAt,
	}

	if c.Query("check") == "true" {
		resp["valid"] = sc.validator.IsValid(account.BrokerAccountID)
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteSession discards the stored session for the account
// DELETE /api/v1/sessions/:account_id
func (sc *SessionController) DeleteSession(c *gin.Context) {
	account, ok := sc.ownedAccount(c, c.Param("account_id"))
	if !ok {
		return
	}

	if err := sc.store.Delete(account.BrokerAccountID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session discarded"})
}
