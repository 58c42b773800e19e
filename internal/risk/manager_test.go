package risk

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

type fakeWallet struct {
	balance float64
	err     error
}

func (w *fakeWallet) QuoteBalance(ctx context.Context) (float64, error) {
	return w.balance, w.err
}

type fakeDrainer struct {
	called bool
	err    error
}

func (d *fakeDrainer) CancelAll(ctx context.Context) error {
	d.called = true
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T, wallet WalletBalance) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.RiskConfig{
		MaxPositionPct:     50,
		MinPositionSizeUSD: 5,
		MaxOpenPositions:   3,
		DailyLossLimitPct:  10,
		MinCashReservePct:  5,
		MinEdgePct:         2,
	}
	return NewManager(cfg, st, wallet, testLogger()), st
}

func baseIntent() types.Intent {
	return types.Intent{
		Strategy: "mirror",
		MarketID: "m1",
		TokenID:  "t1",
		Side:     types.BUY,
		Price:    0.5,
		Notional: 20,
	}
}

func TestApproveHappyPath(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})

	result := rm.Approve(context.Background(), baseIntent())
	if !result.Approved {
		t.Fatalf("expected approval, got rejection: %s", result.Reason)
	}
}

func TestApproveRejectsWhenKillSwitchActive(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})

	if err := rm.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	result := rm.Approve(context.Background(), baseIntent())
	if result.Approved {
		t.Fatal("expected rejection while kill switch active")
	}
}

func TestActivateDrainsQueue(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})
	drainer := &fakeDrainer{}
	rm.SetDrainer(drainer)

	if err := rm.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !drainer.called {
		t.Error("expected drainer.CancelAll to be called on activation")
	}
}

func TestDeactivateClearsKillSwitchAndDailyLossHalt(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})
	rm.mu.Lock()
	rm.dailyLossHalt = true
	rm.mu.Unlock()
	_ = rm.Activate(context.Background())

	if err := rm.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	status := rm.GetStatus()
	if status.KillSwitchActive || status.DailyLossHalt {
		t.Errorf("expected both cleared, got %+v", status)
	}
}

func TestResumeClearsPauseAndDailyLossHalt(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})

	rm.Pause()
	rm.mu.Lock()
	rm.dailyLossHalt = true
	rm.mu.Unlock()

	result := rm.Approve(context.Background(), baseIntent())
	if result.Approved {
		t.Fatal("expected rejection while paused")
	}

	rm.Resume()
	status := rm.GetStatus()
	if status.TradingHalted || status.DailyLossHalt {
		t.Errorf("expected resume to clear both flags, got %+v", status)
	}
}

func TestApproveFailsClosedOnWalletError(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{err: errors.New("rpc down")})

	result := rm.Approve(context.Background(), baseIntent())
	if result.Approved {
		t.Fatal("expected rejection when wallet balance is unavailable")
	}
}

func TestApproveRejectsSecondPositionOnSameMarket(t *testing.T) {
	t.Parallel()
	rm, st := newTestManager(t, &fakeWallet{balance: 1000})

	if _, err := st.OpenPosition(store.Position{
		MarketID: "m1", TokenID: "t1", Strategy: "mirror",
		Side: types.BUY, EntryPrice: 0.5, Size: 10,
	}); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	result := rm.Approve(context.Background(), baseIntent())
	if result.Approved {
		t.Fatal("expected rejection: one market, one live position")
	}
}

func TestApproveAllowsExitDespiteExistingPosition(t *testing.T) {
	t.Parallel()
	rm, st := newTestManager(t, &fakeWallet{balance: 1000})

	if _, err := st.OpenPosition(store.Position{
		MarketID: "m1", TokenID: "t1", Strategy: "mirror",
		Side: types.BUY, EntryPrice: 0.5, Size: 10,
	}); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	exit := baseIntent()
	exit.Side = types.SELL
	exit.Metadata.IsExit = true

	result := rm.Approve(context.Background(), exit)
	if !result.Approved {
		t.Fatalf("expected exit to bypass one-position-per-market check, got %s", result.Reason)
	}
}

func TestApproveRejectsBelowMinPositionSize(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})

	intent := baseIntent()
	intent.Notional = 1

	result := rm.Approve(context.Background(), intent)
	if result.Approved {
		t.Fatal("expected rejection below min position size")
	}
}

func TestApproveRejectsAboveMaxPositionPct(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 100})

	intent := baseIntent()
	intent.Notional = 80 // 80% of a 100 portfolio, max is 50%

	result := rm.Approve(context.Background(), intent)
	if result.Approved {
		t.Fatal("expected rejection above max position pct")
	}
}

func TestApproveRejectsBelowMinEdge(t *testing.T) {
	t.Parallel()
	rm, _ := newTestManager(t, &fakeWallet{balance: 1000})

	edge := 1.0
	intent := baseIntent()
	intent.Metadata.EdgePct = &edge

	result := rm.Approve(context.Background(), intent)
	if result.Approved {
		t.Fatal("expected rejection below min edge pct")
	}
}

func TestApproveRejectsWhenOpenPositionCountAtMax(t *testing.T) {
	t.Parallel()
	rm, st := newTestManager(t, &fakeWallet{balance: 1000})

	for i := 0; i < 3; i++ {
		if _, err := st.OpenPosition(store.Position{
			MarketID: "m" + string(rune('1'+i)), TokenID: "t1", Strategy: "mirror",
			Side: types.BUY, EntryPrice: 0.5, Size: 10,
		}); err != nil {
			t.Fatalf("OpenPosition: %v", err)
		}
	}

	intent := baseIntent()
	intent.MarketID = "m-new"
	result := rm.Approve(context.Background(), intent)
	if result.Approved {
		t.Fatal("expected rejection at max open positions")
	}
}

func TestLoadFromStoreRestoresKillSwitch(t *testing.T) {
	t.Parallel()
	rm, st := newTestManager(t, &fakeWallet{balance: 1000})

	if err := rm.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// A fresh manager sharing the same store should restore the flag.
	fresh := NewManager(config.RiskConfig{MaxOpenPositions: 3, MinPositionSizeUSD: 5, MaxPositionPct: 50, MinCashReservePct: 5, MinEdgePct: 2, DailyLossLimitPct: 10}, st, &fakeWallet{balance: 1000}, testLogger())
	if err := fresh.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	if !fresh.GetStatus().KillSwitchActive {
		t.Error("expected restored manager to report kill switch active")
	}
}

var _ = time.Second
