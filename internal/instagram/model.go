package instagram

import "time"

// AccountConfig is the stored Graph API credential (single row).
type AccountConfig struct {
	ID               uint64    `gorm:"primaryKey"`
	AccessToken      string    `gorm:"type:text;not null"`
	AccountID        string    `gorm:"type:text;not null"`
	LastTokenRefresh time.Time `gorm:"not null"`
	TokenExpiresAt   time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (AccountConfig) TableName() string { return "instagram_configs" }

// ReelMapping links a reel to the section DMed to people who comment the
// keyword (or share the reel in a DM). New mappings start as drafts.
type ReelMapping struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	ReelID       string     `gorm:"type:text;uniqueIndex;not null" json:"reel_id"`
	ReelURL      string     `gorm:"type:text;not null" json:"reel_url"`
	ThumbnailURL *string    `gorm:"type:text" json:"thumbnail_url"`
	Caption      *string    `gorm:"type:text" json:"caption"`
	SectionID    uint64     `gorm:"index;not null" json:"section_id"`
	Keyword      string     `gorm:"type:text;not null" json:"keyword"`
	Active       bool       `gorm:"index;not null" json:"active"`
	MaxItemsInDM int        `gorm:"not null;default:10" json:"max_items_in_dm"`
	IncludeLink  bool       `gorm:"not null" json:"include_link"`
	PublishedAt  *time.Time `json:"published_at"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

// CommentLog is one inbound trigger and what became of it.
type CommentLog struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	TriggerID   string    `gorm:"type:text;uniqueIndex;not null" json:"trigger_id"`
	TriggerType string    `gorm:"type:text;not null" json:"trigger_type"`
	ReelID      string    `gorm:"type:text;not null" json:"reel_id"`
	UserID      string    `gorm:"type:text;not null" json:"user_id"`
	Username    string    `gorm:"type:text;not null" json:"username"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	SectionID   *uint64   `json:"section_id"`
	Outcome     string    `gorm:"type:text;not null" json:"outcome"` // queued/skipped/no_mapping/invalid/error
	JobID       *uint64   `json:"job_id"`
	CreatedAt   time.Time `gorm:"index;not null" json:"created_at"`
}

func Models() []any {
	return []any{&AccountConfig{}, &ReelMapping{}, &CommentLog{}}
}
