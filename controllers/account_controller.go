package controllers

import (
	"net/http"

	"broker_backend_project/middleware"
	"broker_backend_project/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AccountController manages a user's linked broker accounts
type AccountController struct {
	db *gorm.DB
}

// NewAccountController creates a new account controller
func NewAccountController(db *gorm.DB) *AccountController {
	return &AccountController{db: db}
}

// ListAccounts returns the user's linked broker accounts
// GET /api/v1/accounts
func (ac *AccountController) ListAccounts(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var accounts []models.BrokerAccount
	if err := ac.db.Where("user_id = ?", userID).Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch accounts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

// LinkAccount links a broker account to the user
// POST /api/v1/accounts
func (ac *AccountController) LinkAccount(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var request struct {
		BrokerAccountID string `json:"broker_account_id" binding:"required"`
		Mobile          string `json:"mobile" binding:"required"`
		Nickname        string `json:"nickname"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Check if the broker account is already linked
	var existing models.BrokerAccount
	if err := ac.db.Where("broker_account_id = ?", request.BrokerAccountID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Broker account already linked"})
		return
	}

	var user models.User
	if err := ac.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	account := models.BrokerAccount{
		UserID:          user.ID,
		BrokerAccountID: request.BrokerAccountID,
		Mobile:          request.Mobile,
		Nickname:        request.Nickname,
		IsActive:        true,
	}

	if err := ac.db.Create(&account).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

// UpdateAccount updates a linked broker account
// PUT /api/v1/accounts/:account_id
func (ac *AccountController) UpdateAccount(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	account, ok := ac.ownedAccount(c, userID, c.Param("account_id"))
	if !ok {
		return
	}

	var request struct {
		Mobile   string `json:"mobile"`
		Nickname string `json:"nickname"`
		IsActive *bool  `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if request.Mobile != "" {
		updates["mobile"] = request.Mobile
	}
	if request.Nickname != "" {
		updates["nickname"] = request.Nickname
	}
	if request.IsActive != nil {
		updates["is_active"] = *request.IsActive
	}

	if err := ac.db.Model(account).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

// UnlinkAccount removes a linked broker account
// DELETE /api/v1/accounts/:account_id
func (ac *AccountController) UnlinkAccount(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	account, ok := ac.ownedAccount(c, userID, c.Param("account_id"))
	if !ok {
		return
	}

	if err := ac.db.Delete(account).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unlink account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Account unlinked"})
}

// ownedAccount loads a broker account and verifies the caller owns it
func (ac *AccountController) ownedAccount(c *gin.Context, userID, brokerAccountID string) (*models.BrokerAccount, bool) {
	var account models.BrokerAccount
	err := ac.db.Where("broker_account_id = ?", brokerAccountID).First(&account).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch account"})
		return nil, false
	}

	var user models.User
	if err := ac.db.First(&user, userID).Error; err != nil || account.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account belongs to another user"})
		return nil, false
	}

	return &account, true
}
