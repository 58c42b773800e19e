package strategy

import (
	"context"
	"testing"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

type fakeWallet struct{ balance float64 }

func (w *fakeWallet) QuoteBalance(ctx context.Context) (float64, error) { return w.balance, nil }

type fakeExternalSource struct {
	positions map[string][]types.ExternalPosition
}

func (s *fakeExternalSource) ListExternalPositions(ctx context.Context, accountID string) ([]types.ExternalPosition, error) {
	return s.positions[accountID], nil
}

type fakePrices struct{ prices map[string]float64 }

func (p *fakePrices) LatestPrice(tokenID string) *float64 {
	if v, ok := p.prices[tokenID]; ok {
		return &v
	}
	return nil
}

func (p *fakePrices) LastPrice(ctx context.Context, tokenID string) (*float64, error) {
	return p.LatestPrice(tokenID), nil
}

type fakeMarkets struct{}

func (fakeMarkets) GetMarket(ctx context.Context, marketID string) (*types.MarketInfo, error) {
	return &types.MarketInfo{ID: marketID, Question: "will X happen", YesTokenID: "yes-" + marketID, NoTokenID: "no-" + marketID}, nil
}

type fakeStream struct{ subscribed []string }

func (s *fakeStream) Subscribe(tokenIDs []string) { s.subscribed = append(s.subscribed, tokenIDs...) }

func testMirrorConfig() config.MirrorConfig {
	return config.MirrorConfig{
		Enabled:           true,
		SizingMethod:      SizingFixed,
		FixedNotional:     25,
		MinSourceNotional: 100,
		MaxSlippagePct:    5,
		Accounts: []config.TrackedAccount{
			{Address: "0xWhale", Name: "whale1", MaxAllocationUSD: 1000},
		},
	}
}

func TestEvaluateEmitsIntentForNewConvictionPosition(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: 0.5}},
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.51}}
	stream := &fakeStream{}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, stream, testLogger())

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	intents, err := m.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].Side != types.BUY || intents[0].MarketID != "m1" {
		t.Errorf("unexpected intent: %+v", intents[0])
	}
	if intents[0].Notional != 25 {
		t.Errorf("expected fixed notional 25, got %v", intents[0].Notional)
	}
}

func TestEvaluateSkipsBelowConvictionThreshold(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 10, AvgCost: 0.5}}, // $5 notional < $100 min
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.5}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 0 {
		t.Errorf("expected no intents below conviction threshold, got %d", len(intents))
	}
}

func TestEvaluateSourceCurrentValueUsesLivePrice(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 2000, AvgCost: 0.50}},
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.51}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, err := m.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	want := 2000 * 0.51
	got := intents[0].Metadata.SourceCurrentValue
	if got < want-0.01 || got > want+0.01 {
		t.Errorf("SourceCurrentValue = %v, want ~%v (size x live price, not size x avg_cost)", got, want)
	}
}

func TestEvaluateSkipsOnExcessiveSlippage(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: 0.4}},
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.6}} // 50% slippage
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 0 {
		t.Errorf("expected no intents on excessive slippage, got %d", len(intents))
	}
}

func TestEvaluateSkipsUnchangedPosition(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	avgCost := 0.5
	if err := st.UpsertExternalPosition(store.ExternalPositionRow{
		AccountID: "0xWhale", MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: &avgCost,
	}); err != nil {
		t.Fatalf("seed UpsertExternalPosition: %v", err)
	}

	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 1020, AvgCost: 0.5}}, // +2%, below the 10% increase threshold
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.5}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 0 {
		t.Errorf("expected no intent for a sub-threshold increase, got %d", len(intents))
	}
}

func TestEvaluateEmitsOnSignificantIncrease(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	avgCost := 0.5
	if err := st.UpsertExternalPosition(store.ExternalPositionRow{
		AccountID: "0xWhale", MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: &avgCost,
	}); err != nil {
		t.Fatalf("seed UpsertExternalPosition: %v", err)
	}

	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 1200, AvgCost: 0.5}}, // +20%, above the 10% threshold
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.5}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent for a significant increase, got %d", len(intents))
	}
}

func TestEvaluatePortfolioPctSizing(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	cfg := testMirrorConfig()
	cfg.SizingMethod = SizingPortfolioPct
	cfg.PortfolioPctPerTrade = 5
	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: 0.5}},
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.5}}
	m := NewMirror(cfg, st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].Notional != 500 { // 5% of $10,000
		t.Errorf("expected portfolio_pct sizing of 500, got %v", intents[0].Notional)
	}
}

func TestEvaluateClampsToWalletAllocationCap(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	cfg := testMirrorConfig()
	cfg.FixedNotional = 2000
	cfg.Accounts[0].MaxAllocationUSD = 500

	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: 0.5}},
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.5}}
	m := NewMirror(cfg, st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].Notional != 500 {
		t.Errorf("expected notional clamped to 500, got %v", intents[0].Notional)
	}
}

func TestEvaluateEmitsSellOnFullExit(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	avgCost := 0.5
	if err := st.UpsertExternalPosition(store.ExternalPositionRow{
		AccountID: "0xWhale", MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: &avgCost,
	}); err != nil {
		t.Fatalf("seed UpsertExternalPosition: %v", err)
	}
	if _, err := st.OpenPosition(store.Position{
		MarketID: "m1", TokenID: "t1", Strategy: "mirror", Side: types.BUY,
		EntryPrice: 0.5, Size: 50,
		Metadata: types.Metadata{SourceAccount: "0xWhale"},
	}); err != nil {
		t.Fatalf("seed OpenPosition: %v", err)
	}

	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {}, // whale fully exited m1/t1
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.55}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	intents, err := m.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 exit intent, got %d", len(intents))
	}
	if intents[0].Side != types.SELL || intents[0].TokenID != "t1" {
		t.Errorf("unexpected intent: %+v", intents[0])
	}
	if intents[0].Notional != 25 { // 0.5 * 50 * 100%
		t.Errorf("expected full-exit notional 25, got %v", intents[0].Notional)
	}
}

func TestEvaluateEmitsSellOnSignificantReduction(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	avgCost := 0.5
	if err := st.UpsertExternalPosition(store.ExternalPositionRow{
		AccountID: "0xWhale", MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: &avgCost,
	}); err != nil {
		t.Fatalf("seed UpsertExternalPosition: %v", err)
	}
	if _, err := st.OpenPosition(store.Position{
		MarketID: "m1", TokenID: "t1", Strategy: "mirror", Side: types.BUY,
		EntryPrice: 0.5, Size: 50,
		Metadata: types.Metadata{SourceAccount: "0xWhale"},
	}); err != nil {
		t.Fatalf("seed OpenPosition: %v", err)
	}

	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {{MarketID: "m1", TokenID: "t1", Size: 500, AvgCost: 0.5}}, // -50%, below the 70% floor
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.55}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	intents, err := m.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 reduction intent, got %d", len(intents))
	}
	if intents[0].Side != types.SELL {
		t.Errorf("expected a SELL intent, got %+v", intents[0])
	}
	if intents[0].Notional != 12.5 { // 0.5 * 50 * 50%
		t.Errorf("expected reduction notional 12.5, got %v", intents[0].Notional)
	}
}

func TestEvaluateSkipsExitWithNoOwnPosition(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	avgCost := 0.5
	if err := st.UpsertExternalPosition(store.ExternalPositionRow{
		AccountID: "0xWhale", MarketID: "m1", TokenID: "t1", Size: 1000, AvgCost: &avgCost,
	}); err != nil {
		t.Fatalf("seed UpsertExternalPosition: %v", err)
	}

	external := &fakeExternalSource{positions: map[string][]types.ExternalPosition{
		"0xWhale": {},
	}}
	prices := &fakePrices{prices: map[string]float64{"t1": 0.55}}
	m := NewMirror(testMirrorConfig(), st, &fakeWallet{balance: 10000}, prices, fakeMarkets{}, external, &fakeStream{}, testLogger())
	m.Initialize(context.Background())

	intents, _ := m.Evaluate(context.Background())
	if len(intents) != 0 {
		t.Errorf("expected no exit intent without a matching own position, got %d", len(intents))
	}
}

func TestWalletPerformanceAggregatesRecordedTrades(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	if err := st.RecordWalletTrade("0xWhale", 50); err != nil {
		t.Fatalf("RecordWalletTrade: %v", err)
	}
	if err := st.RecordWalletTrade("0xWhale", -20); err != nil {
		t.Fatalf("RecordWalletTrade: %v", err)
	}

	m := NewMirror(testMirrorConfig(), st, &fakeWallet{}, &fakePrices{}, fakeMarkets{}, &fakeExternalSource{}, &fakeStream{}, testLogger())
	perf, err := m.GetWalletPerformance("0xWhale")
	if err != nil {
		t.Fatalf("GetWalletPerformance: %v", err)
	}
	if perf.TradeCount != 2 || perf.WinCount != 1 {
		t.Errorf("unexpected performance: %+v", perf)
	}
	if perf.TotalPnL != 30 {
		t.Errorf("expected total pnl 30, got %v", perf.TotalPnL)
	}
	if perf.WinRatePct != 50 {
		t.Errorf("expected win rate 50%%, got %v", perf.WinRatePct)
	}
}
