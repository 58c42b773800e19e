package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	intents []types.Intent
}

func (s *fakeSubmitter) Submit(intent types.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
}

func (s *fakeSubmitter) last() (types.Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.intents) == 0 {
		return types.Intent{}, false
	}
	return s.intents[len(s.intents)-1], true
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		StopLossPct:     10,
		TrailingStopPct: 5,
		TakeProfitTiers: []config.TakeProfitTier{
			{GainPct: 5, SellPct: 50},
			{GainPct: 15, SellPct: 100},
		},
	}
}

func openTestPosition(t *testing.T, st *store.Store, side types.Side, entry, size float64) int64 {
	t.Helper()
	id, err := st.OpenPosition(store.Position{
		MarketID: "m1", TokenID: "t1", Strategy: "mirror",
		Side: side, EntryPrice: entry, Size: size,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	return id
}

func TestOnPriceUpdateTriggersStopLoss(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	openTestPosition(t, st, types.BUY, 0.5, 100)

	pm.OnPriceUpdate("t1", 0.44, time.Now()) // -12% < -10% stop loss

	intent, ok := sub.last()
	if !ok {
		t.Fatal("expected an exit intent submitted")
	}
	if intent.Side != types.SELL || !intent.Metadata.IsExit {
		t.Errorf("expected SELL exit intent, got %+v", intent)
	}
}

func TestOnPriceUpdateTriggersTakeProfitTierAndSetsTrailingStop(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	id := openTestPosition(t, st, types.BUY, 0.5, 100)

	pm.OnPriceUpdate("t1", 0.53, time.Now()) // +6% triggers first tier (50% partial)

	if sub.count() != 1 {
		t.Fatalf("expected exactly one partial-exit intent, got %d", sub.count())
	}
	intent, _ := sub.last()
	if intent.Notional != 50*0.53 {
		t.Errorf("expected partial exit of 50 shares, got notional %v", intent.Notional)
	}

	positions, err := st.GetOpenPositions("")
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	var p store.Position
	for _, pos := range positions {
		if pos.ID == id {
			p = pos
		}
	}
	if p.TrailingStopPrice == nil {
		t.Fatal("expected trailing stop initialized after first tier")
	}
}

func TestAtMostOneTierTriggersPerUpdate(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	openTestPosition(t, st, types.BUY, 0.5, 100)

	// +20% would satisfy both tiers (5% and 15%), but only one may fire.
	pm.OnPriceUpdate("t1", 0.60, time.Now())

	if sub.count() != 1 {
		t.Fatalf("expected exactly one intent from a single price update, got %d", sub.count())
	}
}

func TestTrailingStopExitsWhenPriceFallsBelowFloor(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	id := openTestPosition(t, st, types.BUY, 0.5, 100)
	trail := 0.52
	if err := st.UpdatePositionTrailingStop(id, trail); err != nil {
		t.Fatalf("UpdatePositionTrailingStop: %v", err)
	}

	pm.OnPriceUpdate("t1", 0.51, time.Now())

	intent, ok := sub.last()
	if !ok {
		t.Fatal("expected trailing-stop exit submitted")
	}
	if intent.Side != types.SELL {
		t.Errorf("expected SELL, got %v", intent.Side)
	}
}

func TestInFlightCloseGuardBlocksDuplicateExit(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	openTestPosition(t, st, types.BUY, 0.5, 100)

	pm.OnPriceUpdate("t1", 0.40, time.Now()) // triggers stop loss once
	firstCount := sub.count()

	pm.OnPriceUpdate("t1", 0.40, time.Now()) // should be blocked: position now CLOSING
	if sub.count() != firstCount {
		t.Errorf("expected no additional exit from a CLOSING position, got %d intents", sub.count())
	}
}

func TestConfirmCloseReleasesGuardAndClosesPosition(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	id := openTestPosition(t, st, types.BUY, 0.5, 100)

	pm.OnPriceUpdate("t1", 0.40, time.Now()) // moves to CLOSING, sets guard
	if err := pm.ConfirmClose(id, -10, "stop_loss"); err != nil {
		t.Fatalf("ConfirmClose: %v", err)
	}

	open, _ := st.GetOpenPositions("")
	for _, p := range open {
		if p.ID == id {
			t.Fatal("expected position no longer open after confirm close")
		}
	}
	if pm.isClosing(id) {
		t.Error("expected in-flight guard released after confirm close")
	}
}

func TestResolveSettlesWinnerAndLoser(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	sub := &fakeSubmitter{}
	pm := NewPositionManager(st, sub, nil, testRiskConfig(), testLogger())
	winnerID := openTestPosition(t, st, types.BUY, 0.4, 100) // holds winning token "t1"

	loserPosID, err := st.OpenPosition(store.Position{
		MarketID: "m1", TokenID: "t2", Strategy: "mirror",
		Side: types.BUY, EntryPrice: 0.6, Size: 100,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if err := pm.Resolve(context.Background(), "m1", "t1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	closed, err := st.GetClosedPositions("", 10)
	if err != nil {
		t.Fatalf("GetClosedPositions: %v", err)
	}
	var winnerRealized, loserRealized float64
	for _, p := range closed {
		if p.ID == winnerID {
			winnerRealized = p.RealizedPnL
		}
		if p.ID == loserPosID {
			loserRealized = p.RealizedPnL
		}
	}
	if winnerRealized <= 0 {
		t.Errorf("expected winner position to realize a profit, got %v", winnerRealized)
	}
	if loserRealized >= 0 {
		t.Errorf("expected loser position to realize a loss, got %v", loserRealized)
	}
}
