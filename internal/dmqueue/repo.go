package dmqueue

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrJobNotFound = errors.New("job not found")

type Repo struct {
	DB *gorm.DB
}

// WithTx returns a Repo bound to tx.
func (r *Repo) WithTx(tx *gorm.DB) *Repo {
	return &Repo{DB: tx}
}

// Enqueue inserts j as pending. It reports false, without error, when an
// active job already exists for the same recipient and reel: the insert and
// the dedup check are a single statement against uq_dm_jobs_active.
func (r *Repo) Enqueue(ctx context.Context, j *Job) (bool, error) {
	j.Status = StatusPending
	j.Attempts = 0
	if j.QueuedAt.IsZero() {
		j.QueuedAt = j.CreatedAt
	}

	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(j)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimNext moves the oldest pending job to processing and returns it.
// Returns nil when the queue is empty.
func (r *Repo) ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error) {
	var job *Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next Job
		err := tx.Where("status = ?", StatusPending).
			Order("queued_at asc, id asc").
			First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// conditional on status so a concurrent claimer cannot double-claim
		res := tx.Model(&Job{}).
			Where("id = ? AND status = ?", next.ID, StatusPending).
			Updates(map[string]any{
				"status":          StatusProcessing,
				"last_attempt_at": now,
				"locked_by":       workerID,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		next.Status = StatusProcessing
		next.LastAttemptAt = &now
		next.LockedBy = &workerID
		next.UpdatedAt = now
		job = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Repo) MarkSent(ctx context.Context, id uint64, text string, sentAt time.Time) error {
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       StatusSent,
			"sent_at":      sentAt,
			"message_text": text,
			"locked_by":    nil,
			"updated_at":   sentAt,
		}).Error
}

// MarkFailed records a failed attempt. The job goes back to the end of the
// queue until it has used up MaxAttempts, then it becomes failed for good.
// Returns the status the job ended in.
func (r *Repo) MarkFailed(ctx context.Context, job *Job, errMsg string, now time.Time) (Status, error) {
	attempts := job.Attempts + 1
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	updates := map[string]any{
		"attempts":   attempts,
		"last_error": errMsg,
		"locked_by":  nil,
		"updated_at": now,
	}

	status := StatusPending
	if attempts >= maxAttempts {
		status = StatusFailed
	} else {
		updates["queued_at"] = now
	}
	updates["status"] = status

	if err := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Updates(updates).Error; err != nil {
		return "", err
	}

	job.Attempts = attempts
	job.Status = status
	job.LastError = &errMsg
	return status, nil
}

// RequeueStale puts processing jobs whose attempt started before cutoff back
// into the queue. Those are leftovers of a process that died mid-send.
func (r *Repo) RequeueStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     StatusPending,
			"locked_by":  nil,
			"queued_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) HasPending(ctx context.Context) (bool, error) {
	var n int64
	if err := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ?", StatusPending).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).First(&j, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

// ListPending returns pending jobs in dispatch order.
func (r *Repo) ListPending(ctx context.Context, limit int) ([]Job, error) {
	return r.ListByStatus(ctx, StatusPending, limit)
}

func (r *Repo) ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error) {
	q := r.DB.WithContext(ctx).Where("status = ?", status)
	if status == StatusPending {
		q = q.Order("queued_at asc, id asc")
	} else {
		q = q.Order("updated_at desc, id desc")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []Job
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountByStatus returns job counts for every status, zero-filled.
func (r *Repo) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	type row struct {
		Status Status
		Count  int64
	}
	var rows []row
	if err := r.DB.WithContext(ctx).Model(&Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := map[Status]int64{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusSent:       0,
		StatusFailed:     0,
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// DeliveryCounts totals finished jobs. Recent counts cover jobs that reached
// their final state after the cutoff passed to Repo.DeliveryCounts.
type DeliveryCounts struct {
	Sent         int64
	Failed       int64
	RecentSent   int64
	RecentFailed int64
}

func (c DeliveryCounts) Total() int64       { return c.Sent + c.Failed }
func (c DeliveryCounts) RecentTotal() int64 { return c.RecentSent + c.RecentFailed }

// SuccessRate is the sent share of finished jobs as a whole percentage, 0 when
// nothing has finished yet.
func (c DeliveryCounts) SuccessRate() int {
	if c.Total() == 0 {
		return 0
	}
	return int(math.Round(float64(c.Sent) * 100 / float64(c.Total())))
}

func (r *Repo) DeliveryCounts(ctx context.Context, since time.Time) (DeliveryCounts, error) {
	type row struct {
		Status Status
		Total  int64
		Recent int64
	}
	var rows []row
	if err := r.DB.WithContext(ctx).Model(&Job{}).
		Select("status, count(*) as total, sum(case when updated_at > ? then 1 else 0 end) as recent", since).
		Where("status IN ?", []Status{StatusSent, StatusFailed}).
		Group("status").
		Scan(&rows).Error; err != nil {
		return DeliveryCounts{}, err
	}

	var out DeliveryCounts
	for _, r := range rows {
		switch r.Status {
		case StatusSent:
			out.Sent, out.RecentSent = r.Total, r.Recent
		case StatusFailed:
			out.Failed, out.RecentFailed = r.Total, r.Recent
		}
	}
	return out, nil
}
