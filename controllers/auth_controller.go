package controllers

import (
	"net/http"
	"time"

	"broker_backend_project/middleware"
	"broker_backend_project/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthController handles user registration and API login
type AuthController struct {
	db          *gorm.DB
	jwtSecret   string
	rateLimiter *middleware.RateLimiter
}

// NewAuthController creates a new auth controller
func NewAuthController(db *gorm.DB, jwtSecret string, rateLimiter *middleware.RateLimiter) *AuthController {
	return &AuthController{db: db, jwtSecret: jwtSecret, rateLimiter: rateLimiter}
}

// Register creates a new user account
// POST /api/v1/auth/register
func (ac *AuthController) Register(c *gin.Context) {
	var request struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Check if user already exists
	var existing models.User
	if err := ac.db.Where("email = ?", request.Email).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	}

	user := models.User{
		Email:    request.Email,
		FullName: request.FullName,
		Phone:    request.Phone,
		IsActive: true,
	}
	if err := user.SetPassword(request.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	if err := ac.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
	}})
}

// Login verifies credentials and issues a JWT token
// POST /api/v1/auth/login
func (ac *AuthController) Login(c *gin.Context) {
	var request struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ip := c.ClientIP()

	var user models.User
	if err := ac.db.Where("email = ?", request.Email).First(&user).Error; err != nil {
		ac.rateLimiter.RecordAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is deactivated"})
		return
	}

	if !user.CheckPassword(request.Password) {
		ac.rateLimiter.RecordAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := middleware.GenerateToken(ac.jwtSecret, user.ID, user.Email, user.FullName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	ac.rateLimiter.RecordAttempt(ip, true)

	now := time.Now()
	ac.db.Model(&user).Update("last_login_at", now)

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":        user.ID,
			"email":     user.Email,
			"full_name": user.FullName,
		},
	})
}

// Me returns the authenticated user's profile
// GET /api/v1/auth/me
func (ac *AuthController) Me(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var user models.User
	if err := ac.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":            user.ID,
		"email":         user.Email,
		"full_name":     user.FullName,
		"phone":         user.Phone,
		"last_login_at": user.LastLoginAt,
	}})
}
