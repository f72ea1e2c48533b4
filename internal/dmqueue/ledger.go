package dmqueue

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const stateID = 1

const (
	DefaultHourlyCap  = 195
	DefaultMinSpacing = time.Second
	Window            = time.Hour
)

// Ledger tracks recent sends and whether a dispatch loop is scheduled.
// Reservation is advisory: ReserveSlot records nothing, RecordSend is called
// once a send went through.
type Ledger struct {
	DB         *gorm.DB
	HourlyCap  int
	MinSpacing time.Duration
	Now        func() time.Time
}

func NewLedger(db *gorm.DB, hourlyCap int, minSpacing time.Duration) *Ledger {
	if hourlyCap <= 0 {
		hourlyCap = DefaultHourlyCap
	}
	if minSpacing <= 0 {
		minSpacing = DefaultMinSpacing
	}
	return &Ledger{DB: db, HourlyCap: hourlyCap, MinSpacing: minSpacing, Now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	cp := *l
	cp.DB = tx
	return &cp
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return utcNow()
}

// State returns the singleton row, creating it on first access.
func (l *Ledger) State(ctx context.Context) (RateLimitState, error) {
	db := l.DB.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&RateLimitState{ID: stateID, UpdatedAt: l.now()}).Error; err != nil {
		return RateLimitState{}, err
	}

	var st RateLimitState
	if err := db.First(&st, stateID).Error; err != nil {
		return RateLimitState{}, err
	}
	return st, nil
}

// RecentSends counts sends strictly newer than now - 1h.
func (l *Ledger) RecentSends(ctx context.Context) (int, error) {
	var n int64
	if err := l.DB.WithContext(ctx).Model(&SendMark{}).
		Where("sent_at > ?", l.now().Add(-Window)).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// ReserveSlot reports whether a send may be attempted now.
func (l *Ledger) ReserveSlot(ctx context.Context) (bool, error) {
	st, err := l.State(ctx)
	if err != nil {
		return false, err
	}

	now := l.now()
	if st.LastSentAt != nil && now.Sub(*st.LastSentAt) < l.MinSpacing {
		return false, nil
	}

	recent, err := l.RecentSends(ctx)
	if err != nil {
		return false, err
	}
	if recent >= l.HourlyCap {
		return false, nil
	}
	return true, nil
}

// RecordSend appends a send and drops marks that fell out of the window.
func (l *Ledger) RecordSend(ctx context.Context, at time.Time) error {
	if _, err := l.State(ctx); err != nil {
		return err
	}

	return l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&SendMark{SentAt: at}).Error; err != nil {
			return err
		}
		if err := tx.Model(&RateLimitState{}).
			Where("id = ?", stateID).
			Updates(map[string]any{"last_sent_at": at, "updated_at": at}).Error; err != nil {
			return err
		}
		return tx.Where("sent_at <= ?", at.Add(-Window)).Delete(&SendMark{}).Error
	})
}

func (l *Ledger) SetWorkerActive(ctx context.Context, active bool) error {
	if _, err := l.State(ctx); err != nil {
		return err
	}
	return l.DB.WithContext(ctx).Model(&RateLimitState{}).
		Where("id = ?", stateID).
		Updates(map[string]any{"worker_active": active, "updated_at": l.now()}).Error
}

// TryActivate flips worker_active from false to true. Only one caller can win;
// the winner is responsible for starting the loop.
func (l *Ledger) TryActivate(ctx context.Context) (bool, error) {
	if _, err := l.State(ctx); err != nil {
		return false, err
	}
	now := l.now()
	res := l.DB.WithContext(ctx).Model(&RateLimitState{}).
		Where("id = ? AND worker_active = ?", stateID, false).
		Updates(map[string]any{"worker_active": true, "worker_last_run": now, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Heartbeat stamps worker_last_run; Recover uses it to spot a dead loop.
func (l *Ledger) Heartbeat(ctx context.Context) error {
	now := l.now()
	return l.DB.WithContext(ctx).Model(&RateLimitState{}).
		Where("id = ?", stateID).
		Updates(map[string]any{"worker_last_run": now, "updated_at": now}).Error
}

// ClearStale resets worker_active when the last heartbeat is older than
// cutoff. Reports whether the flag was cleared.
func (l *Ledger) ClearStale(ctx context.Context, cutoff time.Time) (bool, error) {
	st, err := l.State(ctx)
	if err != nil {
		return false, err
	}
	if !st.WorkerActive {
		return false, nil
	}
	if st.WorkerLastRun != nil && st.WorkerLastRun.After(cutoff) {
		return false, nil
	}

	res := l.DB.WithContext(ctx).Model(&RateLimitState{}).
		Where("id = ? AND worker_active = ?", stateID, true).
		Updates(map[string]any{"worker_active": false, "updated_at": l.now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
