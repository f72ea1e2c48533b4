package dmqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliate/internal/log"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

const DefaultMaxItems = 10

// Trigger is an inbound request to DM a curated list.
type Trigger struct {
	RecipientID string
	Username    string
	SectionID   uint64
	ReelID      string
	Type        TriggerType
	TriggerID   string
	MaxItems    int
	IncludeLink bool
}

func (t Trigger) validate() error {
	switch {
	case strings.TrimSpace(t.RecipientID) == "":
		return fmt.Errorf("%w: recipient id required", ErrInvalidTrigger)
	case strings.TrimSpace(t.Username) == "":
		return fmt.Errorf("%w: username required", ErrInvalidTrigger)
	case strings.TrimSpace(t.ReelID) == "":
		return fmt.Errorf("%w: reel id required", ErrInvalidTrigger)
	case strings.TrimSpace(t.TriggerID) == "":
		return fmt.Errorf("%w: trigger id required", ErrInvalidTrigger)
	case t.SectionID == 0:
		return fmt.Errorf("%w: section id required", ErrInvalidTrigger)
	case t.Type != TriggerComment && t.Type != TriggerDM:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, t.Type)
	}
	return nil
}

// Starter is the part of the dispatcher the gate needs.
type Starter interface {
	EnsureRunning(ctx context.Context) (bool, error)
}

// Gate admits triggers into the queue.
type Gate struct {
	Repo        *Repo
	Worker      Starter
	Limiter     RecipientLimiter
	MaxAttempts int
	Metrics     *Metrics
	Logger      *log.Logger
	Now         func() time.Time
}

// Submit validates t and enqueues a pending job for it. Duplicates (an active
// job for the same recipient and reel) and recipients over their hourly limit
// are skipped: Submit returns nil, nil. On admission the dispatch loop is
// started if it is idle.
func (g *Gate) Submit(ctx context.Context, t Trigger) (*Job, error) {
	logger := g.Logger
	if logger == nil {
		logger = log.Nop()
	}

	if err := t.validate(); err != nil {
		g.Metrics.skipped("invalid")
		return nil, err
	}

	// The limiter counts sends, not admitted jobs: a burst of triggers on
	// different reels can queue past the limit before the first one goes out.
	if g.Limiter != nil {
		ok, err := g.Limiter.Allow(ctx, t.RecipientID)
		if err != nil {
			// fail open; the ledger still caps the account as a whole
			logger.Warnw("recipient limiter unavailable", "recipient", t.RecipientID, "error", err)
		} else if !ok {
			g.Metrics.skipped("recipient_limit")
			logger.Infow("recipient over hourly limit - skipping", "recipient", t.RecipientID, "username", t.Username)
			return nil, nil
		}
	}

	now := utcNow()
	if g.Now != nil {
		now = g.Now()
	}

	maxItems := t.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	maxAttempts := g.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	job := &Job{
		RecipientID: t.RecipientID,
		Username:    t.Username,
		ReelID:      t.ReelID,
		TriggerType: t.Type,
		TriggerID:   t.TriggerID,
		SectionID:   t.SectionID,
		MaxItems:    maxItems,
		IncludeLink: t.IncludeLink,
		MaxAttempts: maxAttempts,
		QueuedAt:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := g.Repo.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue dm job: %w", err)
	}
	if !inserted {
		g.Metrics.skipped("duplicate")
		logger.Infow("duplicate job detected - skipping", "recipient", t.RecipientID, "reel", t.ReelID)
		return nil, nil
	}
	g.Metrics.enqueued(t.Type)

	if g.Worker != nil {
		if _, err := g.Worker.EnsureRunning(ctx); err != nil {
			// the job is stored; Recover or the next admission starts the loop
			logger.Errorw("ensure worker running", "job_id", job.ID, "error", err)
		}
	}

	return job, nil
}
