package dmqueue

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitDedupActiveJob(t *testing.T) {
	h := newHarness(t)

	first := h.submit(t, trigger("u1", "r1"))
	if first == nil || first.ID == 0 {
		t.Fatalf("expected first trigger to be admitted")
	}
	if dup := h.submit(t, trigger("u1", "r1")); dup != nil {
		t.Fatalf("expected duplicate to be skipped, got job %d", dup.ID)
	}
	if other := h.submit(t, trigger("u1", "r2")); other == nil {
		t.Fatalf("expected a different reel to be admitted")
	}

	// a sent job still blocks a second DM for the same reel
	h.tick(t)
	if j := h.job(t, first.ID); j.Status != StatusSent {
		t.Fatalf("expected first job sent, got %s", j.Status)
	}
	if dup := h.submit(t, trigger("u1", "r1")); dup != nil {
		t.Fatalf("expected duplicate of sent job to be skipped")
	}
}

func TestSubmitAfterPermanentFailure(t *testing.T) {
	h := newHarness(t)
	h.sender.errs = []error{errors.New("x"), errors.New("x"), errors.New("x")}

	first := h.submit(t, trigger("u1", "r1"))
	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	if j := h.job(t, first.ID); j.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", j.Status)
	}

	again := h.submit(t, trigger("u1", "r1"))
	if again == nil {
		t.Fatalf("expected a new job once the old one failed")
	}
}

func TestSubmitInvalidTrigger(t *testing.T) {
	h := newHarness(t)
	tr := trigger("u1", "r1")
	tr.RecipientID = "  "

	_, err := h.gate.Submit(context.Background(), tr)
	if !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger, got %v", err)
	}

	tr = trigger("u1", "r1")
	tr.Type = "story"
	if _, err := h.gate.Submit(context.Background(), tr); !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger for unknown type, got %v", err)
	}
}

func TestSubmitStartsWorker(t *testing.T) {
	h := newHarness(t)
	h.submit(t, trigger("u1", "r1"))

	st, err := h.ledger.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !st.WorkerActive {
		t.Fatalf("expected worker to be marked active after admission")
	}
	if len(h.disp.wake) != 1 {
		t.Fatalf("expected one wake signal, got %d", len(h.disp.wake))
	}

	h.submit(t, trigger("u2", "r1"))
	if len(h.disp.wake) != 1 {
		t.Fatalf("second admission must not signal again")
	}
}

func TestSubmitRecipientLimit(t *testing.T) {
	h := newHarness(t)
	lim := &fakeLimiter{limit: 1}
	h.gate.Limiter = lim
	h.disp.limiter = lim

	h.submit(t, trigger("u1", "r1"))
	h.tick(t)

	if j := h.submit(t, trigger("u1", "r2")); j != nil {
		t.Fatalf("expected recipient over limit to be skipped")
	}
	if j := h.submit(t, trigger("u2", "r2")); j == nil {
		t.Fatalf("other recipients are unaffected")
	}

	// limiter errors do not block admission
	lim.failing = true
	if j := h.submit(t, trigger("u3", "r3")); j == nil {
		t.Fatalf("expected admission when limiter is unavailable")
	}
}

func TestSubmitRecipientLimitCountsSends(t *testing.T) {
	h := newHarness(t)
	lim := &fakeLimiter{limit: 1}
	h.gate.Limiter = lim
	h.disp.limiter = lim

	// nothing has been sent yet, so a burst on different reels is admitted
	first := h.submit(t, trigger("u1", "r1"))
	second := h.submit(t, trigger("u1", "r2"))
	if first == nil || second == nil {
		t.Fatalf("expected both triggers admitted before any send")
	}

	h.tick(t)
	h.tick(t)
	if len(h.sender.sent) != 2 {
		t.Fatalf("admitted jobs are delivered, got %d sends", len(h.sender.sent))
	}
	if j := h.submit(t, trigger("u1", "r3")); j != nil {
		t.Fatalf("expected recipient over limit once sends are counted")
	}
}

func TestSubmitDefaults(t *testing.T) {
	h := newHarness(t)
	tr := trigger("u1", "r1")
	tr.MaxItems = 0

	job := h.submit(t, tr)
	got := h.job(t, job.ID)
	if got.MaxItems != DefaultMaxItems || got.MaxAttempts != 3 || got.Attempts != 0 || got.Status != StatusPending {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
