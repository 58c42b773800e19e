package execution

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeApprover struct {
	approve bool
	reason  string
}

func (a *fakeApprover) Approve(ctx context.Context, intent types.Intent) types.ApprovalResult {
	return types.ApprovalResult{Approved: a.approve, Reason: a.reason}
}

type fakeAdapter struct {
	mu          sync.Mutex
	submitted   []types.Intent
	result      types.OrderResult
	openOrders  []types.OrderView
	cancelAllOK bool
	cancelAllErr error
}

func (a *fakeAdapter) SubmitOrder(ctx context.Context, tokenID string, side types.Side, price, size float64, discipline types.Discipline, expiration int64) types.OrderResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted = append(a.submitted, types.Intent{TokenID: tokenID, Side: side, Price: price, Notional: price * size, Discipline: discipline})
	return a.result
}

func (a *fakeAdapter) CancelAllOrders(ctx context.Context) (bool, error) {
	return a.cancelAllOK, a.cancelAllErr
}

func (a *fakeAdapter) ListOpenOrders(ctx context.Context) ([]types.OrderView, error) {
	return a.openOrders, nil
}

type fakeRateLimiter struct {
	mu             sync.Mutex
	acquireCalls   int
	successCalls   int
	rateLimitCalls int
}

func (r *fakeRateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquireCalls++
	return nil
}
func (r *fakeRateLimiter) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successCalls++
}
func (r *fakeRateLimiter) RecordRateLimit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimitCalls++
}

type fakeNotifier struct {
	mu     sync.Mutex
	notified int
}

func (n *fakeNotifier) NotifyPositionOpened(strategy, marketID string, side types.Side, price, size float64, reasoning, marketQuestion string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified++
}

type fakeCloser struct {
	mu             sync.Mutex
	confirmed      []int64
	confirmedPnL   float64
	confirmedReason string
	released       []int64
}

func (c *fakeCloser) ConfirmClose(positionID int64, realizedPnL float64, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, positionID)
	c.confirmedPnL = realizedPnL
	c.confirmedReason = reason
	return nil
}

func (c *fakeCloser) ReleaseClosingGuard(positionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, positionID)
}

func baseIntent() types.Intent {
	return types.Intent{
		Strategy: "mirror", MarketID: "m1", TokenID: "t1",
		Side: types.BUY, Price: 0.5, Notional: 10,
		Discipline: types.Resting,
	}
}

func TestProcessDropsOnRiskRejection(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: true, OrderID: "o1"}}
	rl := &fakeRateLimiter{}
	m := NewManager(&fakeApprover{approve: false, reason: "nope"}, adapter, rl, st, nil, true, testLogger())

	m.process(context.Background(), baseIntent())

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.submitted) != 0 {
		t.Error("expected no submission after risk rejection")
	}
}

func TestProcessRecordsTradeAndOpensPositionOnSuccess(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: true, OrderID: "o1"}}
	rl := &fakeRateLimiter{}
	notifier := &fakeNotifier{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, notifier, true, testLogger())

	m.process(context.Background(), baseIntent())

	if rl.successCalls != 1 {
		t.Errorf("expected RecordSuccess called once, got %d", rl.successCalls)
	}
	positions, err := st.GetOpenPositions("")
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(positions))
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.notified != 1 {
		t.Errorf("expected notifier called once, got %d", notifier.notified)
	}
}

func TestProcessDoesNotOpenPositionForExit(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: true, OrderID: "o1"}}
	rl := &fakeRateLimiter{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())

	exit := baseIntent()
	exit.Metadata.IsExit = true
	m.process(context.Background(), exit)

	positions, _ := st.GetOpenPositions("")
	if len(positions) != 0 {
		t.Errorf("expected no position opened for exit intent, got %d", len(positions))
	}
}

func TestProcessRecordsRateLimitOnThrottledError(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: false, Error: "429 too many requests"}}
	rl := &fakeRateLimiter{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())

	m.process(context.Background(), baseIntent())

	if rl.rateLimitCalls != 1 {
		t.Errorf("expected RecordRateLimit called once, got %d", rl.rateLimitCalls)
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: true, OrderID: "o1"}}
	rl := &fakeRateLimiter{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())

	for i := 0; i < queueCapacity; i++ {
		m.Submit(baseIntent())
	}
	// One more should be dropped, not block.
	done := make(chan struct{})
	go func() {
		m.Submit(baseIntent())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue instead of dropping")
	}
}

func TestCancelAllDrainsQueueAndCancelsOrders(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{cancelAllOK: true}
	rl := &fakeRateLimiter{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())

	m.Submit(baseIntent())
	m.Submit(baseIntent())

	if err := m.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	select {
	case <-m.queue:
		t.Error("expected queue drained")
	default:
	}
}

func TestOnSuccessFinalizesFullExitViaCloser(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: true, OrderID: "o1"}}
	rl := &fakeRateLimiter{}
	closer := &fakeCloser{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())
	m.SetCloser(closer)

	realized := 4.2
	exit := baseIntent()
	exit.Metadata = types.Metadata{IsExit: true, PositionID: 7, RealizedPnL: &realized, CloseReason: "stop_loss"}
	m.process(context.Background(), exit)

	closer.mu.Lock()
	defer closer.mu.Unlock()
	if len(closer.confirmed) != 1 || closer.confirmed[0] != 7 {
		t.Fatalf("expected ConfirmClose(7, ...) once, got %v", closer.confirmed)
	}
	if closer.confirmedPnL != realized || closer.confirmedReason != "stop_loss" {
		t.Errorf("confirmedPnL/reason = %v/%q, want %v/%q", closer.confirmedPnL, closer.confirmedReason, realized, "stop_loss")
	}
}

func TestOnSuccessSkipsFinalizeForPartialExit(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: true, OrderID: "o1"}}
	rl := &fakeRateLimiter{}
	closer := &fakeCloser{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())
	m.SetCloser(closer)

	// A partial take-profit-tier exit carries no RealizedPnL: the position
	// stays open, so there is nothing to finalize.
	partial := baseIntent()
	partial.Metadata = types.Metadata{IsExit: true, PositionID: 7, CloseReason: "take_profit_tier_1"}
	m.process(context.Background(), partial)

	closer.mu.Lock()
	defer closer.mu.Unlock()
	if len(closer.confirmed) != 0 {
		t.Errorf("expected no ConfirmClose call for a partial exit, got %v", closer.confirmed)
	}
}

func TestRetryExhaustionReleasesClosingGuard(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{result: types.OrderResult{OK: false, Error: "exchange down"}}
	rl := &fakeRateLimiter{}
	closer := &fakeCloser{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, true, testLogger())
	m.SetCloser(closer)

	realized := -1.0
	exit := baseIntent()
	exit.Metadata = types.Metadata{IsExit: true, PositionID: 9, RealizedPnL: &realized, CloseReason: "stop_loss"}
	m.process(context.Background(), exit) // blocks through all retry backoffs

	closer.mu.Lock()
	defer closer.mu.Unlock()
	if len(closer.released) != 1 || closer.released[0] != 9 {
		t.Fatalf("expected ReleaseClosingGuard(9) after retries exhausted, got %v", closer.released)
	}
	if len(closer.confirmed) != 0 {
		t.Errorf("expected no ConfirmClose on exhausted retries, got %v", closer.confirmed)
	}
}

func TestFillConfirmationCoercesStillOpenIOKToFailure(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	adapter := &fakeAdapter{
		result:     types.OrderResult{OK: true, OrderID: "o1"},
		openOrders: []types.OrderView{{OrderID: "o1"}},
	}
	rl := &fakeRateLimiter{}
	m := NewManager(&fakeApprover{approve: true}, adapter, rl, st, nil, false, testLogger())

	intent := baseIntent()
	intent.Discipline = types.ImmediateOrKill
	result, err := m.attempt(context.Background(), intent)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if result.OK {
		t.Error("expected IOK order still open to be coerced to failure")
	}
}
