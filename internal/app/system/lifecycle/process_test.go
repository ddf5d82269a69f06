package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
)

func seedQueued(h *harness, id string) {
	now := h.clock
	h.store.txs[id] = models.Transaction{
		ID:        id,
		UserID:    "u1",
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProcessInvite_IssuesLink(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.links = []string{"https://t.me/+abc"}
	seedQueued(h, "tx1")

	outcome, err := h.ctrl.ProcessInvite(context.Background(), "tx1")
	if err != nil {
		t.Fatalf("ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %q, want done", outcome)
	}

	hash := Fingerprint("https://t.me/+abc")

	tx := h.store.tx("tx1")
	if tx.Status != models.StatusDone || tx.InviteLink != "https://t.me/+abc" || tx.InviteHash != hash {
		t.Errorf("unexpected record: %+v", tx)
	}
	if tx.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", tx.Attempts)
	}

	rec, err := h.store.GetInviteLink(context.Background(), hash)
	if err != nil {
		t.Fatalf("correlation record missing: %v", err)
	}
	if rec.TransactionID != "tx1" || rec.UserID != "u1" {
		t.Errorf("unexpected correlation record: %+v", rec)
	}

	if got := h.notifier.count("telegram_link_created"); got != 1 {
		t.Errorf("link_created notifications = %d, want 1", got)
	}
	if data := h.notifier.sent[0].Data; data["inviteLink"] != "https://t.me/+abc" || data["transactionId"] != "tx1" {
		t.Errorf("notification data = %v", data)
	}
}

func TestProcessInvite_AlreadyDone(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.links = []string{"https://t.me/+abc"}
	seedQueued(h, "tx1")

	ctx := context.Background()
	if _, err := h.ctrl.ProcessInvite(ctx, "tx1"); err != nil {
		t.Fatalf("first ProcessInvite() error = %v", err)
	}
	outcome, err := h.ctrl.ProcessInvite(ctx, "tx1")
	if err != nil {
		t.Fatalf("second ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeAlreadyDone {
		t.Errorf("outcome = %q, want already_done", outcome)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("issuer calls = %d, want 1", h.issuer.Calls())
	}
	if got := h.notifier.count("telegram_link_created"); got != 1 {
		t.Errorf("link_created notifications = %d, want 1", got)
	}
}

func TestProcessInvite_NotFound(t *testing.T) {
	h := newHarness(testConfig())

	outcome, err := h.ctrl.ProcessInvite(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Errorf("outcome = %q, want not_found", outcome)
	}
	if h.issuer.Calls() != 0 {
		t.Error("issuer called for missing transaction")
	}
}

func TestProcessInvite_StoreError(t *testing.T) {
	h := newHarness(testConfig())
	h.store.failGet = errors.New("connection reset")

	if _, err := h.ctrl.ProcessInvite(context.Background(), "tx1"); err == nil {
		t.Error("expected error when store is unavailable")
	}
}

func TestProcessInvite_RetrySchedulesBackoff(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.errs = []error{errors.New("Too Many Requests: retry after 5")}
	seedQueued(h, "tx1")

	outcome, err := h.ctrl.ProcessInvite(context.Background(), "tx1")
	if err != nil {
		t.Fatalf("ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeRetryScheduled {
		t.Fatalf("outcome = %q, want retry_scheduled", outcome)
	}

	tx := h.store.tx("tx1")
	if tx.Status != models.StatusQueued || tx.Attempts != 1 {
		t.Errorf("record = %+v, want queued with 1 attempt", tx)
	}
	if !strings.Contains(tx.LastError, "Too Many Requests") {
		t.Errorf("LastError = %q", tx.LastError)
	}

	items := h.dispatcher.Items()
	want := RetryDelay(1, h.ctrl.cfg.RetryBaseDelay, h.ctrl.cfg.RetryMaxDelay)
	if len(items) != 1 || items[0].Delay != want {
		t.Errorf("dispatcher items = %+v, want one item delayed %v", items, want)
	}
	if h.notifier.count("telegram_link_created") != 0 {
		t.Error("link_created fired on failure")
	}
}

func TestProcessInvite_FailsAfterMaxAttempts(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.errs = []error{errors.New("chat not found")}
	seedQueued(h, "tx1")
	ctx := context.Background()

	var outcome Outcome
	for i := 0; i < 20; i++ {
		var err error
		outcome, err = h.ctrl.ProcessInvite(ctx, "tx1")
		if err != nil {
			t.Fatalf("ProcessInvite() #%d error = %v", i+1, err)
		}
		if outcome == OutcomeFailed {
			break
		}
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", outcome)
	}

	tx := h.store.tx("tx1")
	if tx.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", tx.Status)
	}
	if tx.Attempts != 11 {
		t.Errorf("attempts = %d, want 11", tx.Attempts)
	}
	if !strings.HasPrefix(tx.LastError, "max attempts exceeded (10)") || !strings.Contains(tx.LastError, "chat not found") {
		t.Errorf("LastError = %q", tx.LastError)
	}
	if h.issuer.Calls() != 10 {
		t.Errorf("issuer calls = %d, want 10", h.issuer.Calls())
	}
	if got := len(h.dispatcher.Items()); got != 10 {
		t.Errorf("dispatcher items = %d, want 10", got)
	}

	// A failed transaction stays failed.
	outcome, err := h.ctrl.ProcessInvite(ctx, "tx1")
	if err != nil || outcome != OutcomeFailed {
		t.Errorf("ProcessInvite() after failure = %q, %v", outcome, err)
	}
	if h.issuer.Calls() != 10 || len(h.dispatcher.Items()) != 10 {
		t.Error("failed transaction was retried")
	}
}

func TestProcessInvite_LiveLeaseSchedulesFollowUp(t *testing.T) {
	tests := []struct {
		name      string
		heldFor   time.Duration
		wantDelay time.Duration
	}{
		{"early in lease", 30 * time.Second, 90 * time.Second},
		{"lease about to lapse", 2*time.Minute - 100*time.Millisecond, minFollowUpDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(testConfig())
			h.issuer.links = []string{"https://t.me/+abc"}
			h.store.txs["tx1"] = models.Transaction{
				ID:        "tx1",
				UserID:    "u1",
				Status:    models.StatusProcessing,
				Attempts:  1,
				UpdatedAt: h.clock.Add(-tt.heldFor),
			}

			outcome, err := h.ctrl.ProcessInvite(context.Background(), "tx1")
			if err != nil {
				t.Fatalf("ProcessInvite() error = %v", err)
			}
			if outcome != OutcomeRetryScheduled {
				t.Errorf("outcome = %q, want retry_scheduled", outcome)
			}
			if h.issuer.Calls() != 0 {
				t.Error("issuer called while another delivery holds the lease")
			}
			items := h.dispatcher.Items()
			if len(items) != 1 || items[0].ID != "tx1" || items[0].Delay != tt.wantDelay {
				t.Errorf("dispatcher items = %+v, want one tx1 follow-up after %v", items, tt.wantDelay)
			}
			if got := h.store.tx("tx1").Attempts; got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
		})
	}
}

func TestProcessInvite_AbandonedClaimIsFollowedUp(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.links = []string{"https://t.me/+abc"}
	seedQueued(h, "tx1")
	ctx := context.Background()

	// The first delivery claims the record and then gives up before minting.
	h.ctrl.sleep = func(context.Context, time.Duration) error { return context.Canceled }
	if _, err := h.ctrl.ProcessInvite(ctx, "tx1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("first ProcessInvite() error = %v, want context.Canceled", err)
	}
	if got := h.store.tx("tx1").Status; got != models.StatusProcessing {
		t.Fatalf("status after abandoned claim = %q, want processing", got)
	}
	h.ctrl.sleep = func(context.Context, time.Duration) error { return nil }

	// The queue redelivers inside the lease.
	h.clock = h.clock.Add(time.Second)
	outcome, err := h.ctrl.ProcessInvite(ctx, "tx1")
	if err != nil {
		t.Fatalf("redelivery ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeRetryScheduled {
		t.Fatalf("redelivery outcome = %q, want retry_scheduled", outcome)
	}
	items := h.dispatcher.Items()
	if len(items) != 1 {
		t.Fatalf("dispatcher items = %+v, want one follow-up", items)
	}
	if want := 2*time.Minute - time.Second; items[0].Delay != want {
		t.Errorf("follow-up delay = %v, want %v", items[0].Delay, want)
	}

	// The follow-up lands after the lease and completes the transaction.
	h.clock = h.clock.Add(items[0].Delay)
	outcome, err = h.ctrl.ProcessInvite(ctx, "tx1")
	if err != nil {
		t.Fatalf("follow-up ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeDone {
		t.Errorf("follow-up outcome = %q, want done", outcome)
	}
	tx := h.store.tx("tx1")
	if tx.Status != models.StatusDone || tx.Attempts != 2 {
		t.Errorf("unexpected record: %+v", tx)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("issuer calls = %d, want 1", h.issuer.Calls())
	}
}

func TestProcessInvite_LiveLeaseEnqueueFailure(t *testing.T) {
	h := newHarness(testConfig())
	h.store.txs["tx1"] = models.Transaction{
		ID:        "tx1",
		UserID:    "u1",
		Status:    models.StatusProcessing,
		Attempts:  1,
		UpdatedAt: h.clock,
	}
	h.dispatcher.err = errors.New("queue down")

	if _, err := h.ctrl.ProcessInvite(context.Background(), "tx1"); err == nil {
		t.Fatal("expected error when the follow-up cannot be enqueued")
	}
}

func TestProcessInvite_StaleLeaseIsReclaimed(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.links = []string{"https://t.me/+abc"}
	h.store.txs["tx1"] = models.Transaction{
		ID:        "tx1",
		UserID:    "u1",
		Status:    models.StatusProcessing,
		Attempts:  1,
		UpdatedAt: h.clock.Add(-10 * time.Minute),
	}

	outcome, err := h.ctrl.ProcessInvite(context.Background(), "tx1")
	if err != nil {
		t.Fatalf("ProcessInvite() error = %v", err)
	}
	if outcome != OutcomeDone {
		t.Errorf("outcome = %q, want done", outcome)
	}
	if got := h.store.tx("tx1").Attempts; got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestProcessInvite_ConcurrentDeliveriesMintOnce(t *testing.T) {
	h := newHarness(testConfig())
	h.issuer.links = []string{"https://t.me/+abc"}
	seedQueued(h, "tx1")

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := h.ctrl.ProcessInvite(context.Background(), "tx1")
			if err != nil {
				t.Errorf("ProcessInvite() error = %v", err)
			}
			outcomes <- o
		}()
	}
	wg.Wait()
	close(outcomes)

	done := 0
	for o := range outcomes {
		switch o {
		case OutcomeDone:
			done++
		case OutcomeAlreadyDone, OutcomeRetryScheduled:
		default:
			t.Errorf("unexpected outcome %q", o)
		}
	}
	if done != 1 {
		t.Errorf("done outcomes = %d, want 1", done)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("issuer calls = %d, want 1", h.issuer.Calls())
	}
}

func TestProcessInvite_PacingHonorsContext(t *testing.T) {
	h := newHarness(testConfig())
	h.ctrl.cfg.MintPacing = time.Hour
	h.ctrl.sleep = sleepCtx
	seedQueued(h, "tx1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.ctrl.ProcessInvite(ctx, "tx1"); !errors.Is(err, context.Canceled) {
		t.Errorf("ProcessInvite() error = %v, want context.Canceled", err)
	}
	if h.issuer.Calls() != 0 {
		t.Error("issuer called after cancellation")
	}
}
