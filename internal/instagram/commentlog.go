package instagram

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	OutcomeQueued    = "queued"
	OutcomeSkipped   = "skipped"
	OutcomeNoMapping = "no_mapping"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

type CommentLogs struct {
	DB *gorm.DB
}

// Record stores what happened to ev. Webhook redeliveries reuse the trigger
// id, so the first record wins and later ones are dropped.
func (l *CommentLogs) Record(ctx context.Context, ev Event, outcome string, sectionID, jobID *uint64) error {
	row := CommentLog{
		TriggerID:   ev.TriggerID,
		TriggerType: string(ev.Type),
		ReelID:      ev.ReelID,
		UserID:      ev.UserID,
		Username:    ev.Username,
		Text:        ev.Text,
		SectionID:   sectionID,
		Outcome:     outcome,
		JobID:       jobID,
		CreatedAt:   time.Now().UTC(),
	}
	return l.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// Activity is a comment log row with the title of the section it matched.
type Activity struct {
	CommentLog
	SectionTitle *string `json:"section_title"`
}

// Recent lists the newest triggers first. SectionTitle is nil when the
// trigger matched no section or the section has since been removed.
func (l *CommentLogs) Recent(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Activity
	err := l.DB.WithContext(ctx).
		Table("comment_logs").
		Select("comment_logs.*, sections.title AS section_title").
		Joins("LEFT JOIN sections ON sections.id = comment_logs.section_id").
		Order("comment_logs.created_at desc, comment_logs.id desc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// Counts returns the number of logged triggers overall and since the given time.
func (l *CommentLogs) Counts(ctx context.Context, since time.Time) (total, recent int64, err error) {
	if err = l.DB.WithContext(ctx).Model(&CommentLog{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = l.DB.WithContext(ctx).Model(&CommentLog{}).Where("created_at > ?", since).Count(&recent).Error; err != nil {
		return 0, 0, err
	}
	return total, recent, nil
}
