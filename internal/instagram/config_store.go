package instagram

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotConfigured = errors.New("instagram not configured")
	ErrTokenExpired  = errors.New("instagram access token expired")
)

// TokenLifetime is how long a long-lived Graph token stays valid.
const TokenLifetime = 60 * 24 * time.Hour

type Credentials struct {
	AccessToken string
	AccountID   string
	ExpiresAt   time.Time
}

// ConfigStore keeps the account credentials. The saved row wins; Fallback
// (from the environment) is used until something is saved.
type ConfigStore struct {
	DB       *gorm.DB
	Fallback Credentials
	Now      func() time.Time
}

func (s *ConfigStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *ConfigStore) Save(ctx context.Context, accessToken, accountID string) (AccountConfig, error) {
	accessToken = strings.TrimSpace(accessToken)
	accountID = strings.TrimSpace(accountID)
	if accessToken == "" || accountID == "" {
		return AccountConfig{}, errors.New("access token and account id required")
	}

	now := s.now()
	var cfg AccountConfig
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Order("id asc").First(&cfg).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		cfg.AccessToken = accessToken
		cfg.AccountID = accountID
		cfg.LastTokenRefresh = now
		cfg.TokenExpiresAt = now.Add(TokenLifetime)
		cfg.UpdatedAt = now
		return tx.Save(&cfg).Error
	})
	return cfg, err
}

// Load returns the saved row, or nil when nothing was saved.
func (s *ConfigStore) Load(ctx context.Context) (*AccountConfig, error) {
	var cfg AccountConfig
	err := s.DB.WithContext(ctx).Order("id asc").First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Credentials returns usable credentials or ErrNotConfigured/ErrTokenExpired.
func (s *ConfigStore) Credentials(ctx context.Context) (Credentials, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if cfg == nil {
		if s.Fallback.AccessToken == "" {
			return Credentials{}, ErrNotConfigured
		}
		return s.Fallback, nil
	}
	if !cfg.TokenExpiresAt.IsZero() && cfg.TokenExpiresAt.Before(s.now()) {
		return Credentials{}, ErrTokenExpired
	}
	return Credentials{
		AccessToken: cfg.AccessToken,
		AccountID:   cfg.AccountID,
		ExpiresAt:   cfg.TokenExpiresAt,
	}, nil
}
