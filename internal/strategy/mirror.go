package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

// Sizing methods for the mirror strategy's trade-size calculation.
const (
	SizingFixed        = "fixed"
	SizingPortfolioPct = "portfolio_pct"
	SizingSourcePct    = "source_pct"
)

// winnerFeePct and takerFeePct mirror the fee constants in internal/pnl,
// expressed as percentages for the conservative edge estimate below.
const (
	winnerFeePct = 2.0
	takerFeePct  = 3.15
)

// ExternalPositionSource fetches a tracked account's current on-chain
// holdings.
type ExternalPositionSource interface {
	ListExternalPositions(ctx context.Context, accountID string) ([]types.ExternalPosition, error)
}

// PriceSource resolves a token's current price, WS-cache-first with a REST
// fallback, matching the source's own price-lookup ordering.
type PriceSource interface {
	LatestPrice(tokenID string) *float64
	LastPrice(ctx context.Context, tokenID string) (*float64, error)
}

// MarketLookup resolves a market's question text and Yes/No token ids for
// signal metadata.
type MarketLookup interface {
	GetMarket(ctx context.Context, marketID string) (*types.MarketInfo, error)
}

// Wallet reports this bot's own quote balance, used for PORTFOLIO_PCT sizing.
type Wallet interface {
	QuoteBalance(ctx context.Context) (float64, error)
}

// StreamSubscriber subscribes newly tracked tokens to live price updates.
type StreamSubscriber interface {
	Subscribe(tokenIDs []string)
}

// Mirror is the worked Strategy Runtime example (spec'd as "mirror"):
// diff-tracks a set of external wallets' positions and replicates their
// entries, subject to conviction and slippage filters.
type Mirror struct {
	cfg      config.MirrorConfig
	store    *store.Store
	wallet   Wallet
	prices   PriceSource
	markets  MarketLookup
	external ExternalPositionSource
	stream   StreamSubscriber
	logger   *slog.Logger

	cache map[string]map[string]store.ExternalPositionRow // accountID -> "marketID|tokenID" -> row
}

// NewMirror constructs the mirror strategy's Evaluator.
func NewMirror(cfg config.MirrorConfig, st *store.Store, wallet Wallet, prices PriceSource, markets MarketLookup, external ExternalPositionSource, stream StreamSubscriber, logger *slog.Logger) *Mirror {
	return &Mirror{
		cfg:      cfg,
		store:    st,
		wallet:   wallet,
		prices:   prices,
		markets:  markets,
		external: external,
		stream:   stream,
		logger:   logger.With("component", "mirror_strategy"),
		cache:    make(map[string]map[string]store.ExternalPositionRow),
	}
}

// Initialize loads every tracked account's last-known positions from the
// external_positions table into the in-memory cache.
func (m *Mirror) Initialize(ctx context.Context) error {
	for _, acct := range m.cfg.Accounts {
		rows, err := m.store.GetExternalPositions(acct.Address)
		if err != nil {
			return fmt.Errorf("load external positions for %s: %w", acct.Address, err)
		}
		byKey := make(map[string]store.ExternalPositionRow, len(rows))
		for _, r := range rows {
			byKey[cacheKey(r.MarketID, r.TokenID)] = r
		}
		m.cache[acct.Address] = byKey
	}
	m.logger.Info("mirror strategy initialized", "tracked_accounts", len(m.cfg.Accounts))
	return nil
}

// Evaluate polls every tracked account once, diffing its current positions
// against the cache to detect new or meaningfully increased holdings.
func (m *Mirror) Evaluate(ctx context.Context) ([]types.Intent, error) {
	var intents []types.Intent
	for _, acct := range m.cfg.Accounts {
		acctIntents, err := m.processAccount(ctx, acct)
		if err != nil {
			m.logger.Error("mirror poll failed", "wallet", acct.Name, "error", err)
			continue
		}
		intents = append(intents, acctIntents...)
	}
	return intents, nil
}

// Shutdown is a no-op: the external-position cache already lives in the
// store and is re-read on the next Initialize.
func (m *Mirror) Shutdown(ctx context.Context) error { return nil }

func (m *Mirror) processAccount(ctx context.Context, acct config.TrackedAccount) ([]types.Intent, error) {
	current, err := m.external.ListExternalPositions(ctx, acct.Address)
	if err != nil {
		return nil, err
	}

	prev := m.cache[acct.Address]
	if prev == nil {
		prev = make(map[string]store.ExternalPositionRow)
	}

	currentByKey := make(map[string]types.ExternalPosition, len(current))
	var intents []types.Intent
	var newTokens []string

	for _, pos := range current {
		key := cacheKey(pos.MarketID, pos.TokenID)
		currentByKey[key] = pos

		if prevRow, existed := prev[key]; existed {
			if pos.Size <= prevRow.Size*1.10 {
				continue // not a meaningful increase; skip per the entry-detection rule
			}
		}

		if intent, ok := m.buildIntent(ctx, acct, pos); ok {
			intents = append(intents, intent)
		}

		if price := m.prices.LatestPrice(pos.TokenID); price == nil || *price == 0 {
			newTokens = append(newTokens, pos.TokenID)
		}
	}

	intents = append(intents, m.detectExits(ctx, acct, prev, currentByKey)...)

	m.persistCache(acct.Address, prev, currentByKey)
	if len(newTokens) > 0 && m.stream != nil {
		m.stream.Subscribe(newTokens)
	}
	return intents, nil
}

// detectExits walks every position the cache last saw for this account and
// emits a SELL intent for a full exit (absent from current) or a
// significant reduction (current size < 70% of prev size), sized to our
// own matching open exposure rather than the source's.
func (m *Mirror) detectExits(ctx context.Context, acct config.TrackedAccount, prev map[string]store.ExternalPositionRow, current map[string]types.ExternalPosition) []types.Intent {
	var intents []types.Intent
	for key, prevRow := range prev {
		curPos, stillHeld := current[key]

		var reductionPct float64
		switch {
		case !stillHeld:
			reductionPct = 100
		case curPos.Size < prevRow.Size*0.70:
			reductionPct = (prevRow.Size - curPos.Size) / prevRow.Size * 100
		default:
			continue
		}

		ourPos, ok := m.findOwnPosition(acct.Address, prevRow.TokenID)
		if !ok {
			continue
		}

		exitPrice, err := m.resolvePrice(ctx, prevRow.TokenID)
		if err != nil || exitPrice <= 0 {
			m.logger.Warn("mirror exit skip: no price", "token_id", prevRow.TokenID)
			continue
		}

		exitNotional := roundCents(ourPos.EntryPrice * ourPos.Size * reductionPct / 100)
		if exitNotional < m.minPositionSize() {
			continue
		}

		intents = append(intents, types.Intent{
			Strategy:   "mirror",
			MarketID:   prevRow.MarketID,
			TokenID:    prevRow.TokenID,
			Side:       types.SELL,
			Price:      exitPrice,
			Notional:   exitNotional,
			Discipline: types.ImmediateOrKill,
			Urgency:    types.Normal,
			Reasoning: fmt.Sprintf("mirror %s: source exit/reduction %.0f%%", acct.Name, reductionPct),
			Metadata: types.Metadata{
				IsExit:         true,
				PositionID:     ourPos.ID,
				SourceAccount:  acct.Address,
				MarketQuestion: ourPos.Metadata.MarketQuestion,
			},
		})
	}
	return intents
}

// findOwnPosition locates our own OPEN mirror position for the given
// source account and token, if one exists.
func (m *Mirror) findOwnPosition(accountID, tokenID string) (store.Position, bool) {
	positions, err := m.store.GetOpenPositions("mirror")
	if err != nil {
		return store.Position{}, false
	}
	for _, p := range positions {
		if p.TokenID == tokenID && p.Metadata.SourceAccount == accountID {
			return p, true
		}
	}
	return store.Position{}, false
}

func (m *Mirror) buildIntent(ctx context.Context, acct config.TrackedAccount, pos types.ExternalPosition) (types.Intent, bool) {
	currentPrice, err := m.resolvePrice(ctx, pos.TokenID)
	if err != nil || currentPrice <= 0 {
		m.logger.Warn("mirror skip: no price", "token_id", pos.TokenID)
		return types.Intent{}, false
	}

	// source_current_value = size x live_price (spec §4.8.1 step 4); the
	// conviction filter below is evaluated against this live-marked value,
	// not the source's cost basis.
	sourceCurrentValue := pos.Size * currentPrice
	if sourceCurrentValue < m.cfg.MinSourceNotional {
		return types.Intent{}, false
	}

	var slippagePct float64
	if pos.AvgCost > 0 {
		slippagePct = (currentPrice - pos.AvgCost) / pos.AvgCost * 100
		if slippagePct > m.cfg.MaxSlippagePct {
			m.logger.Info("mirror skip: slippage", "wallet", acct.Name, "slippage_pct", slippagePct)
			return types.Intent{}, false
		}
	}

	tradeSize := m.calculateTradeSize(ctx, sourceCurrentValue)
	if tradeSize <= 0 {
		return types.Intent{}, false
	}

	exposure := m.walletExposure(acct.Address)
	if acct.MaxAllocationUSD > 0 && exposure+tradeSize > acct.MaxAllocationUSD {
		tradeSize = acct.MaxAllocationUSD - exposure
		if tradeSize < 0 {
			tradeSize = 0
		}
	}
	if tradeSize <= 0 {
		m.logger.Info("mirror skip: wallet allocation exhausted", "wallet", acct.Name)
		return types.Intent{}, false
	}

	edgePct := maxFloat(0, 10.0-(winnerFeePct+takerFeePct))
	marketQuestion, yesTokenID, noTokenID := m.marketMeta(ctx, pos.MarketID)

	discipline := types.Resting
	if m.cfg.Discipline == "ioc" {
		discipline = types.ImmediateOrKill
	}

	return types.Intent{
		Strategy:   "mirror",
		MarketID:   pos.MarketID,
		TokenID:    pos.TokenID,
		Side:       types.BUY,
		Price:      currentPrice,
		Notional:   tradeSize,
		Discipline: discipline,
		Urgency:    types.Normal,
		Reasoning: fmt.Sprintf("mirror %s: source held $%.0f @ %.3f, current %.3f",
			acct.Name, sourceCurrentValue, pos.AvgCost, currentPrice),
		Metadata: types.Metadata{
			SourceAccount:      acct.Address,
			SourceAvgCost:      pos.AvgCost,
			SourceCurrentValue: sourceCurrentValue,
			SlippagePct:        slippagePct,
			EdgePct:            &edgePct,
			MarketQuestion:     marketQuestion,
			YesTokenID:         yesTokenID,
			NoTokenID:          noTokenID,
		},
	}, true
}

func (m *Mirror) resolvePrice(ctx context.Context, tokenID string) (float64, error) {
	if price := m.prices.LatestPrice(tokenID); price != nil && *price > 0 {
		return *price, nil
	}
	price, err := m.prices.LastPrice(ctx, tokenID)
	if err != nil || price == nil {
		return 0, err
	}
	return *price, nil
}

func (m *Mirror) marketMeta(ctx context.Context, marketID string) (question, yesTokenID, noTokenID string) {
	if m.markets == nil {
		return marketID, "", ""
	}
	info, err := m.markets.GetMarket(ctx, marketID)
	if err != nil || info == nil {
		return marketID, "", ""
	}
	return info.Question, info.YesTokenID, info.NoTokenID
}

// calculateTradeSize sizes a mirrored trade per the configured method,
// floored to zero below the minimum position size.
func (m *Mirror) calculateTradeSize(ctx context.Context, sourceNotional float64) float64 {
	var size float64
	switch m.cfg.SizingMethod {
	case SizingPortfolioPct:
		size = m.portfolioValue(ctx) * (m.cfg.PortfolioPctPerTrade / 100)
	case SizingSourcePct:
		size = sourceNotional * (m.cfg.SourcePct / 100)
	default:
		size = m.cfg.FixedNotional
	}
	if size < m.minPositionSize() {
		return 0
	}
	return roundCents(size)
}

func (m *Mirror) portfolioValue(ctx context.Context) float64 {
	balance, err := m.wallet.QuoteBalance(ctx)
	if err != nil {
		m.logger.Warn("portfolio_pct sizing: wallet balance unavailable", "error", err)
		balance = 0
	}
	positions, err := m.store.GetOpenPositions("")
	if err != nil {
		return balance
	}
	for _, p := range positions {
		balance += p.EntryPrice * p.Size
	}
	return balance
}

func (m *Mirror) minPositionSize() float64 {
	// The strategy doesn't own risk config directly; a trade below any
	// reasonable floor is rejected by the risk gate regardless, so a
	// conservative $1 floor here just avoids emitting obviously-dust
	// intents that would only be rejected downstream.
	return 1.0
}

// walletExposure sums this bot's open "mirror" positions sourced from one
// external account, by entry notional.
func (m *Mirror) walletExposure(accountID string) float64 {
	positions, err := m.store.GetOpenPositions("mirror")
	if err != nil {
		return 0
	}
	var exposure float64
	for _, p := range positions {
		if p.Metadata.SourceAccount == accountID {
			exposure += p.EntryPrice * p.Size
		}
	}
	return exposure
}

// persistCache upserts every currently-held position and deletes rows for
// positions the account no longer holds.
func (m *Mirror) persistCache(accountID string, prev map[string]store.ExternalPositionRow, current map[string]types.ExternalPosition) {
	for key, prevRow := range prev {
		if _, stillHeld := current[key]; !stillHeld {
			if err := m.store.DeleteExternalPosition(accountID, prevRow.MarketID, prevRow.TokenID); err != nil {
				m.logger.Error("failed to delete stale external position", "error", err)
			}
		}
	}

	byKey := make(map[string]store.ExternalPositionRow, len(current))
	for key, pos := range current {
		avgCost := pos.AvgCost
		row := store.ExternalPositionRow{
			AccountID: accountID, MarketID: pos.MarketID, TokenID: pos.TokenID,
			Size: pos.Size, AvgCost: &avgCost,
		}
		if err := m.store.UpsertExternalPosition(row); err != nil {
			m.logger.Error("failed to upsert external position", "error", err)
		}
		byKey[key] = row
	}
	m.cache[accountID] = byKey
}

// WalletPerformance is the per-wallet performance report (COPY-06
// equivalent): win rate, total P&L, and trade count for positions sourced
// from one tracked account.
type WalletPerformance struct {
	Address         string
	Name            string
	TradeCount      int
	WinCount        int
	TotalPnL        float64
	WinRatePct      float64
	CurrentExposure float64
}

// GetWalletPerformance reports one tracked account's performance.
func (m *Mirror) GetWalletPerformance(address string) (WalletPerformance, error) {
	p, err := m.store.GetWalletPerformance(address)
	if err != nil {
		return WalletPerformance{}, err
	}
	wp := WalletPerformance{
		Address: address, TradeCount: p.TradeCount, WinCount: p.WinCount,
		TotalPnL: p.TotalPnL, CurrentExposure: m.walletExposure(address),
	}
	if p.TradeCount > 0 {
		wp.WinRatePct = float64(p.WinCount) / float64(p.TradeCount) * 100
	}
	return wp, nil
}

// GetAllWalletPerformance reports every tracked account's performance.
func (m *Mirror) GetAllWalletPerformance() ([]WalletPerformance, error) {
	out := make([]WalletPerformance, 0, len(m.cfg.Accounts))
	for _, acct := range m.cfg.Accounts {
		wp, err := m.GetWalletPerformance(acct.Address)
		if err != nil {
			return nil, err
		}
		wp.Name = acct.Name
		out = append(out, wp)
	}
	return out, nil
}

func cacheKey(marketID, tokenID string) string {
	return marketID + "|" + tokenID
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
