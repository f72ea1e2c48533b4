package dmqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"affiliate/internal/catalog"
	"affiliate/internal/instagram"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec(ActiveIndexSQL).Error; err != nil {
		t.Fatalf("create active index: %v", err)
	}
	return db
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeComposer struct {
	text string
	err  error
}

func (f *fakeComposer) Compose(ctx context.Context, sectionID uint64, maxItems int, includeLink bool) (catalog.Message, error) {
	if f.err != nil {
		return catalog.Message{}, f.err
	}
	return catalog.Message{Text: f.text, ItemCount: maxItems}, nil
}

type sent struct {
	recipient string
	text      string
}

// fakeSender fails the first len(errs) calls with those errors, then succeeds.
type fakeSender struct {
	mu   sync.Mutex
	errs []error
	sent []sent
}

func (f *fakeSender) Send(ctx context.Context, recipientID, text string, creds instagram.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sent{recipient: recipientID, text: text})
	return nil
}

type staticCreds struct {
	err error
}

func (s staticCreds) Credentials(ctx context.Context) (instagram.Credentials, error) {
	if s.err != nil {
		return instagram.Credentials{}, s.err
	}
	return instagram.Credentials{AccessToken: "tok", AccountID: "acct"}, nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	counts  map[string]int
	limit   int
	failing bool
}

func (f *fakeLimiter) Allow(ctx context.Context, recipientID string) (bool, error) {
	if f.failing {
		return false, errors.New("redis down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[recipientID] < f.limit, nil
}

func (f *fakeLimiter) Record(ctx context.Context, recipientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[recipientID]++
	return nil
}

type harness struct {
	db       *gorm.DB
	clock    *clock
	repo     *Repo
	ledger   *Ledger
	composer *fakeComposer
	sender   *fakeSender
	disp     *Dispatcher
	gate     *Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	c := newClock()

	repo := &Repo{DB: db}
	ledger := NewLedger(db, DefaultHourlyCap, DefaultMinSpacing)
	ledger.Now = c.Now

	h := &harness{
		db:       db,
		clock:    c,
		repo:     repo,
		ledger:   ledger,
		composer: &fakeComposer{text: "your picks"},
		sender:   &fakeSender{},
	}
	h.disp = NewDispatcher(repo, ledger, h.composer, h.sender, staticCreds{}, Options{Now: c.Now})
	h.gate = &Gate{Repo: repo, Worker: h.disp, Now: c.Now}
	return h
}

func trigger(recipient, reel string) Trigger {
	return Trigger{
		RecipientID: recipient,
		Username:    "user-" + recipient,
		SectionID:   1,
		ReelID:      reel,
		Type:        TriggerComment,
		TriggerID:   "c-" + recipient + "-" + reel,
		MaxItems:    10,
		IncludeLink: true,
	}
}

func (h *harness) submit(t *testing.T, tr Trigger) *Job {
	t.Helper()
	job, err := h.gate.Submit(context.Background(), tr)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

// tick runs one dispatch step and moves the clock past the returned delay.
func (h *harness) tick(t *testing.T) (time.Duration, bool) {
	t.Helper()
	delay, more := h.disp.Tick(context.Background())
	h.clock.Advance(delay)
	return delay, more
}

func (h *harness) job(t *testing.T, id uint64) *Job {
	t.Helper()
	j, err := h.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %d: %v", id, err)
	}
	return j
}
