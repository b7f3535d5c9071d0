package services

import (
	"errors"
	"fmt"
	"time"

	"broker_backend_project/models"

	"gorm.io/gorm"
)

// AccountInfo is the slice of a broker account the session lifecycle reads.
// The DAO layer owns the full entity.
type AccountInfo struct {
	BrokerAccountID string
	UserID          uint
	Mobile          string
	IsActive        bool
	LastLoginMethod string
}

// AccountDirectory is the read surface over accounts and their owning users
type AccountDirectory interface {
	GetAccount(brokerAccountID string) (*AccountInfo, error)
	ListActiveAccounts() ([]AccountInfo, error)
	UserActive(userID uint) (bool, error)
	RecordLogin(brokerAccountID, method string) error
}

// GormAccountDirectory is the database-backed AccountDirectory
type GormAccountDirectory struct {
	db *gorm.DB
}

// NewGormAccountDirectory creates a directory over the given database
func NewGormAccountDirectory(db *gorm.DB) *GormAccountDirectory {
	return &GormAccountDirectory{db: db}
}

// GetAccount returns the account, or nil when it does not exist
func (d *GormAccountDirectory) GetAccount(brokerAccountID string) (*AccountInfo, error) {
	var account models.BrokerAccount
	err := d.db.Where("broker_account_id = ?", brokerAccountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", brokerAccountID, err)
	}
	info := toAccountInfo(&account)
	return &info, nil
}

// ListActiveAccounts returns every active broker account
func (d *GormAccountDirectory) ListActiveAccounts() ([]AccountInfo, error) {
	var accounts []models.BrokerAccount
	if err := d.db.Where("is_active = ?", true).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	infos := make([]AccountInfo, 0, len(accounts))
	for i := range accounts {
		infos = append(infos, toAccountInfo(&accounts[i]))
	}
	return infos, nil
}

// UserActive reports whether the owning user exists and is active
func (d *GormAccountDirectory) UserActive(userID uint) (bool, error) {
	var user models.User
	err := d.db.Select("id", "is_active").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	return user.IsActive, nil
}

// RecordLogin stamps the method and time of a successful login on the account
func (d *GormAccountDirectory) RecordLogin(brokerAccountID, method string) error {
	now := time.Now()
	return d.db.Model(&models.BrokerAccount{}).
		Where("broker_account_id = ?", brokerAccountID).
		Updates(map[string]interface{}{
			"last_login_method": method,
			"last_login_at":     now,
		}).Error
}

func toAccountInfo(a *models.BrokerAccount) AccountInfo {
	return AccountInfo{
		BrokerAccountID: a.BrokerAccountID,
		UserID:          a.UserID,
		Mobile:          a.Mobile,
		IsActive:        a.IsActive,
		LastLoginMethod: a.LastLoginMethod,
	}
}
