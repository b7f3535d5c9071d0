package models

import (
	"time"

	"gorm.io/gorm"
)

// Login method constants
const (
	LoginMethodSMS = "sms"
	LoginMethodQR  = "qr"
)

// BrokerAccount represents a trading account on the broker platform.
// The session lifecycle subsystem reads it to decide whether an automatic
// re-login may be triggered and which login flow to use.
type BrokerAccount struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"index" json:"user_id"`
	User            User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	BrokerAccountID string     `gorm:"uniqueIndex;not null" json:"broker_account_id"`
	Mobile          string     `gorm:"index" json:"mobile"`
	Nickname        string     `json:"nickname"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	LastLoginMethod string     `json:"last_login_method"` // sms, qr, or empty when never logged in
	LastLoginAt     *time.Time `json:"last_login_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsValidLoginMethod checks if the login method is a known one
func IsValidLoginMethod(method string) bool {
	return method == LoginMethodSMS || method == LoginMethodQR
}

// MigrateBrokerModels runs database migrations for broker-account models
func MigrateBrokerModels(db *gorm.DB) error {
	return db.AutoMigrate(&BrokerAccount{})
}
