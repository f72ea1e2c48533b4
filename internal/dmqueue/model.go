package dmqueue

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known job status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

type TriggerType string

const (
	TriggerComment TriggerType = "comment"
	TriggerDM      TriggerType = "dm"
)

// Job is one DM send intent. At most one job in pending/processing/sent may
// exist per (recipient_id, reel_id); see uq_dm_jobs_active.
type Job struct {
	ID uint64 `gorm:"primaryKey"`

	RecipientID string      `gorm:"type:text;not null;index:idx_dm_jobs_recipient_reel,priority:1"`
	Username    string      `gorm:"type:text;not null"`
	ReelID      string      `gorm:"type:text;not null;index:idx_dm_jobs_recipient_reel,priority:2"`
	TriggerType TriggerType `gorm:"type:text;not null"`
	TriggerID   string      `gorm:"type:text;not null"` // comment or message id, audit only

	SectionID   uint64 `gorm:"not null"`
	MaxItems    int    `gorm:"not null;default:10"`
	IncludeLink bool   `gorm:"not null"`

	Status Status `gorm:"type:text;index;not null;default:'pending'"`

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:3"`

	// QueuedAt orders the pending queue. A retried job gets a fresh value.
	QueuedAt      time.Time  `gorm:"index;not null"`
	LastAttemptAt *time.Time
	SentAt        *time.Time
	LockedBy      *string `gorm:"type:text"`

	LastError   *string `gorm:"type:text"`
	MessageText *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "dm_jobs" }

// RateLimitState is the process-wide singleton row (id=1).
type RateLimitState struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	LastSentAt    *time.Time
	WorkerActive  bool `gorm:"not null;default:false"`
	WorkerLastRun *time.Time
	UpdatedAt     time.Time `gorm:"not null"`
}

func (RateLimitState) TableName() string { return "dm_rate_limit_states" }

// SendMark is one successful send inside the sliding window.
type SendMark struct {
	ID     uint64    `gorm:"primaryKey"`
	SentAt time.Time `gorm:"index;not null"`
}

func (SendMark) TableName() string { return "dm_send_marks" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Job{}, &RateLimitState{}, &SendMark{}}
}

// ActiveIndexSQL is the partial unique index backing the dedup invariant.
// Both Postgres and SQLite accept it.
const ActiveIndexSQL = `create unique index if not exists uq_dm_jobs_active
on dm_jobs(recipient_id, reel_id)
where status in ('pending', 'processing', 'sent');`
