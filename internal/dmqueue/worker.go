package dmqueue

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"affiliate/internal/catalog"
	"affiliate/internal/instagram"
	"affiliate/internal/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultTickSpacing      = 2 * time.Second
	DefaultRateLimitBackoff = 10 * time.Second

	// MaxMessageLength is the platform's cap on a DM body.
	MaxMessageLength = 1000
	truncateAt       = 950
	TruncationSuffix = "\n\n... (visit link for full list)"

	staleProcessing = 5 * time.Minute
	staleHeartbeat  = time.Minute
)

// Composer renders the DM body for a section.
type Composer interface {
	Compose(ctx context.Context, sectionID uint64, maxItems int, includeLink bool) (catalog.Message, error)
}

// Sender delivers a DM. A non-nil error is a failed attempt.
type Sender interface {
	Send(ctx context.Context, recipientID, text string, creds instagram.Credentials) error
}

// CredentialSource supplies the account credentials for each send.
type CredentialSource interface {
	Credentials(ctx context.Context) (instagram.Credentials, error)
}

type Options struct {
	TickSpacing      time.Duration
	RateLimitBackoff time.Duration
	Limiter          RecipientLimiter
	Metrics          *Metrics
	Logger           *log.Logger
	Now              func() time.Time
}

// Dispatcher drains the DM queue one job per tick. At most one drain loop runs
// per deployment: the worker_active flag in the ledger is the gate, and only
// the caller that flips it wakes the loop.
type Dispatcher struct {
	ID       string
	Repo     *Repo
	Ledger   *Ledger
	Composer Composer
	Sender   Sender
	Creds    CredentialSource

	tickSpacing time.Duration
	backoff     time.Duration
	watchEvery  time.Duration
	limiter     RecipientLimiter
	metrics     *Metrics
	logger      *log.Logger
	now         func() time.Time

	wake chan struct{}
}

func NewDispatcher(repo *Repo, ledger *Ledger, composer Composer, sender Sender, creds CredentialSource, opts Options) *Dispatcher {
	if opts.TickSpacing <= 0 {
		opts.TickSpacing = DefaultTickSpacing
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = utcNow
	}
	return &Dispatcher{
		ID:          "dispatcher-" + uuid.NewString(),
		Repo:        repo,
		Ledger:      ledger,
		Composer:    composer,
		Sender:      sender,
		Creds:       creds,
		tickSpacing: opts.TickSpacing,
		backoff:     opts.RateLimitBackoff,
		watchEvery:  staleHeartbeat,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		logger:      opts.Logger.Named("dispatcher"),
		now:         opts.Now,
		wake:        make(chan struct{}, 1),
	}
}

// EnsureRunning starts the drain loop unless one is already active. Safe to
// call concurrently; reports whether this call started it.
func (d *Dispatcher) EnsureRunning(ctx context.Context) (bool, error) {
	won, err := d.Ledger.TryActivate(ctx)
	if err != nil {
		return false, fmt.Errorf("activate worker: %w", err)
	}
	if !won {
		return false, nil
	}
	d.signal()
	d.logger.Infow("worker started", "dispatcher", d.ID)
	return true, nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run waits for wake-ups and drains the queue until ctx is cancelled. While
// idle it periodically runs Recover, so a worker_active flag left behind by a
// dispatcher that died does not block the queue past its heartbeat timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	watch := time.NewTicker(d.watchEvery)
	defer watch.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			d.drain(ctx)
		case <-watch.C:
			if err := d.Recover(ctx); err != nil {
				d.logger.Errorw("watchdog", "error", err)
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	d.metrics.draining(true)
	defer d.metrics.draining(false)

	for {
		delay, more := d.Tick(ctx)
		if !more {
			return
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			// leave the flag clear so the next process can take over
			if err := d.Ledger.SetWorkerActive(context.Background(), false); err != nil {
				d.logger.Errorw("clear worker flag on shutdown", "error", err)
			}
			return
		case <-t.C:
		}
	}
}

// Tick runs one dispatch step and returns the delay before the next one.
// more is false only when the queue was found empty and the loop stopped.
func (d *Dispatcher) Tick(ctx context.Context) (time.Duration, bool) {
	if err := d.Ledger.Heartbeat(ctx); err != nil {
		d.logger.Warnw("heartbeat failed", "error", err)
	}

	ok, err := d.Ledger.ReserveSlot(ctx)
	if err != nil {
		d.logger.Errorw("reserve slot", "error", err)
		return d.backoff, true
	}
	if !ok {
		d.metrics.rateLimited()
		d.logger.Debugw("rate limited", "retry_in", d.backoff)
		return d.backoff, true
	}

	job, err := d.Repo.ClaimNext(ctx, d.ID, d.now())
	if err != nil {
		d.logger.Errorw("claim job", "error", err)
		return d.backoff, true
	}
	if job == nil {
		return d.stopIfIdle(ctx)
	}

	d.logger.Infow("processing job", "job_id", job.ID, "username", job.Username, "attempt", job.Attempts+1)
	d.process(ctx, job)

	return d.tickSpacing, true
}

// stopIfIdle clears the active flag. A job admitted between the empty claim
// and the flag reset would find the flag still set and not wake anyone, so
// look once more after clearing it.
func (d *Dispatcher) stopIfIdle(ctx context.Context) (time.Duration, bool) {
	if err := d.Ledger.SetWorkerActive(ctx, false); err != nil {
		d.logger.Errorw("mark worker inactive", "error", err)
		return d.backoff, true
	}

	pending, err := d.Repo.HasPending(ctx)
	if err != nil {
		d.logger.Errorw("re-check queue", "error", err)
		return 0, false
	}
	if pending {
		won, err := d.Ledger.TryActivate(ctx)
		if err == nil && won {
			return 0, true
		}
	}

	d.logger.Infow("queue empty - worker stopping")
	return 0, false
}

func (d *Dispatcher) process(ctx context.Context, job *Job) {
	text, err := d.deliver(ctx, job)
	if err != nil {
		d.fail(ctx, job, err)
		return
	}

	sentAt := d.now()
	err = d.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.Repo.WithTx(tx).MarkSent(ctx, job.ID, text, sentAt); err != nil {
			return err
		}
		return d.Ledger.WithTx(tx).RecordSend(ctx, sentAt)
	})
	if err != nil {
		// the DM is out; the row stays processing and Recover requeues it
		d.logger.Errorw("record sent job", "job_id", job.ID, "error", err)
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Record(ctx, job.RecipientID); err != nil {
			d.logger.Warnw("recipient limiter record", "recipient", job.RecipientID, "error", err)
		}
	}

	d.metrics.attempt("sent")
	d.logger.Infow("job sent", "job_id", job.ID, "chars", utf8.RuneCountInString(text))
}

// deliver composes and sends the DM, returning the text that went out.
func (d *Dispatcher) deliver(ctx context.Context, job *Job) (string, error) {
	creds, err := d.Creds.Credentials(ctx)
	if err != nil {
		return "", err
	}

	msg, err := d.Composer.Compose(ctx, job.SectionID, job.MaxItems, job.IncludeLink)
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}

	text := Truncate(msg.Text)
	if err := d.Sender.Send(ctx, job.RecipientID, text, creds); err != nil {
		return "", err
	}
	return text, nil
}

func (d *Dispatcher) fail(ctx context.Context, job *Job, cause error) {
	status, err := d.Repo.MarkFailed(ctx, job, cause.Error(), d.now())
	if err != nil {
		d.logger.Errorw("record failed attempt", "job_id", job.ID, "error", err)
		return
	}

	if status == StatusFailed {
		d.metrics.attempt("failed")
		d.logger.Warnw("job failed permanently", "job_id", job.ID, "attempts", job.Attempts, "error", cause)
		return
	}
	d.metrics.attempt("retry")
	d.logger.Warnw("job attempt failed, requeued", "job_id", job.ID, "attempts", job.Attempts, "error", cause)
}

// Truncate keeps text within MaxMessageLength characters.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxMessageLength {
		return text
	}
	r := []rune(text)
	return string(r[:truncateAt]) + TruncationSuffix
}

// Recover repairs state left by a dispatcher that stopped mid-drain and
// restarts the loop when work is waiting. A live loop keeps its heartbeat
// fresh and its claims young, so only abandoned state is touched.
func (d *Dispatcher) Recover(ctx context.Context) error {
	now := d.now()

	n, err := d.Repo.RequeueStale(ctx, now.Add(-staleProcessing), now)
	if err != nil {
		return fmt.Errorf("requeue stale jobs: %w", err)
	}
	if n > 0 {
		d.logger.Warnw("requeued stale processing jobs", "count", n)
	}

	cleared, err := d.Ledger.ClearStale(ctx, now.Add(-staleHeartbeat))
	if err != nil {
		return fmt.Errorf("clear stale worker flag: %w", err)
	}
	if cleared {
		d.logger.Warnw("cleared stale worker flag")
	}

	pending, err := d.Repo.HasPending(ctx)
	if err != nil {
		return err
	}
	if !pending {
		return nil
	}
	_, err = d.EnsureRunning(ctx)
	return err
}
