package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already used")
)

const (
	MaxFailedLogins   = 5
	LockoutDuration   = 15 * time.Minute
	MinPasswordLength = 12
)

type Service struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// CreateAdmin registers a dashboard user. There is no public sign-up; admins
// are created from the CLI.
func (s *Service) CreateAdmin(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	var n int64
	if err := s.DB.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return User{}, err
	}
	if n > 0 {
		return User{}, ErrEmailTaken
	}

	u := User{Email: email, PasswordHash: hash, CreatedAt: s.now()}
	if err := s.DB.WithContext(ctx).Create(&u).Error; err != nil {
		return User{}, err
	}
	return u, nil
}

// Login checks the password. After MaxFailedLogins wrong attempts in a row the
// account is locked for LockoutDuration.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var u User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	now := s.now()
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		return User{}, ErrAccountLocked
	}

	if !ComparePassword(u.PasswordHash, password) {
		failed := u.FailedAttempts + 1
		updates := map[string]any{"failed_attempts": failed}
		if failed >= MaxFailedLogins {
			updates["locked_until"] = now.Add(LockoutDuration)
			updates["failed_attempts"] = 0
		}
		if err := s.DB.WithContext(ctx).Model(&u).Updates(updates).Error; err != nil {
			return User{}, err
		}
		if failed >= MaxFailedLogins {
			return User{}, ErrAccountLocked
		}
		return User{}, ErrInvalidCredentials
	}

	if err := s.DB.WithContext(ctx).Model(&u).Updates(map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
	}).Error; err != nil {
		return User{}, err
	}
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	return u, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (User, error) {
	var u User
	err := s.DB.WithContext(ctx).First(&u, id).Error
	return u, err
}
