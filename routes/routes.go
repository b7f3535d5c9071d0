package routes

import (
	"strconv"
	"time"

	"broker_backend_project/controllers"
	"broker_backend_project/middleware"
	"broker_backend_project/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the shared services the route handlers need
type Deps struct {
	DB          *gorm.DB
	JWTSecret   string
	Store       *services.SessionStore
	Registry    *services.SmsChallengeRegistry
	QRRegistry  *services.QRLoginRegistry
	Gateway     services.PlatformGateway
	Coordinator *services.ReloginCoordinator
	Validator   *services.SessionValidator
	Gate        *services.AuthGate
	Sweeper     *services.ConcurrentSweeper
	Reports     *services.SweepReportStore
	Journal     *services.AuditJournal
	Hub         *services.NotifyHub
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Login and SMS dispatch share one throttle: 5 attempts per 15 minutes,
	// then a 30 minute lock.
	loginLimiter := middleware.NewRateLimiter(5, 15*time.Minute, 30*time.Minute)
	smsLimiter := middleware.NewRateLimiter(10, 10*time.Minute, 15*time.Minute)

	// Initialize controllers
	authController := controllers.NewAuthController(deps.DB, deps.JWTSecret, loginLimiter)
	accountController := controllers.NewAccountController(deps.DB)
	sessionController := controllers.NewSessionController(
		deps.DB, deps.Store, deps.Registry, deps.QRRegistry,
		deps.Gateway, deps.Coordinator, deps.Validator)
	portfolioController := controllers.NewPortfolioController(deps.DB, deps.Gate, deps.Gateway, sessionController)
	adminController := controllers.NewAdminController(deps.Sweeper, deps.Reports, deps.Journal, sessionController)

	auth := middleware.JWTAuthMiddleware(deps.JWTSecret)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// User auth routes
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", authController.Register)
			authRoutes.POST("/login", middleware.RateLimitMiddleware(loginLimiter, false), authController.Login)
			authRoutes.GET("/me", auth, authController.Me)
		}

		// Broker account routes
		accounts := api.Group("/accounts", auth)
		{
			accounts.GET("", accountController.ListAccounts)
			accounts.POST("", accountController.LinkAccount)
			accounts.PUT("/:account_id", accountController.UpdateAccount)
			accounts.DELETE("/:account_id", accountController.UnlinkAccount)

			accounts.GET("/:account_id/positions", portfolioController.GetPositions)
			accounts.GET("/:account_id/balance", portfolioController.GetBalance)
			accounts.GET("/:account_id/events", adminController.GetAccountEvents)
		}

		// Broker session routes
		sessions := api.Group("/sessions", auth)
		{
			sms := sessions.Group("/sms", middleware.RateLimitMiddleware(smsLimiter, true))
			{
				sms.POST("/send", sessionController.SendSmsCode)
				sms.POST("/captcha", sessionController.SubmitCaptcha)
				sms.POST("/verify", sessionController.VerifySmsCode)
			}

			sessions.POST("/qr", sessionController.CreateQRLogin)
			sessions.GET("/qr/:qr_id", sessionController.PollQRLogin)

			sessions.GET("/:account_id", sessionController.GetSessionStatus)
			sessions.DELETE("/:account_id", sessionController.DeleteSession)
		}

		// Operational routes
		admin := api.Group("/admin", auth)
		{
			admin.POST("/sweep", adminController.RunSweep)
			admin.GET("/sweep/reports", adminController.GetSweepReports)
		}
	}

	// Notification stream. The hub filters messages per user, so the user id
	// comes from the validated token, never from the query string.
	router.GET("/ws/notifications", auth, func(c *gin.Context) {
		userIDStr, err := middleware.GetUserIDFromContext(c)
		if err != nil {
			c.JSON(401, gin.H{"error": "Not authenticated"})
			return
		}
		userID, err := strconv.ParseUint(userIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid user id"})
			return
		}
		deps.Hub.HandleWebSocket(c.Writer, c.Request, uint(userID))
	})
}
