package auth

import "time"

// User is a dashboard admin.
type User struct {
	ID             uint64 `gorm:"primaryKey"`
	Email          string `gorm:"uniqueIndex;not null"`
	PasswordHash   string `gorm:"not null"`
	FailedAttempts int    `gorm:"not null;default:0"`
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

func (User) TableName() string { return "admin_users" }
