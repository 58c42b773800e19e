// Package risk implements the single gate every trade intent passes
// through before reaching the order manager: portfolio caps, per-strategy
// allocation, cash-reserve and edge floors, daily-loss halt, and a
// durable kill switch.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

// WalletBalance is the opaque collaborator that reads the quote-currency
// (USDC) balance of the trading wallet. Kept as an interface because the
// concrete wallet/RPC client is out of scope here (spec §1).
type WalletBalance interface {
	QuoteBalance(ctx context.Context) (float64, error)
}

// QueueDrainer is the capability the risk manager needs from the order
// manager on kill-switch activation: drain its queue and cancel every
// resting order. Modeled as an interface and injected after construction
// (SetDrainer) specifically to avoid a cyclic import — the order manager
// also needs to call back into risk.Approve, so neither package may import
// the other's concrete type.
type QueueDrainer interface {
	CancelAll(ctx context.Context) error
}

// Manager is the Risk Manager (C5): a synchronous gate, not a goroutine —
// Approve is called inline from the order manager's worker loop.
type Manager struct {
	cfg     config.RiskConfig
	store   *store.Store
	wallet  WalletBalance
	logger  *slog.Logger

	mu               sync.Mutex
	drainer          QueueDrainer
	killSwitchActive bool
	tradingHalted    bool // in-memory pause, never persisted
	dailyLossHalt    bool
}

// NewManager constructs a risk manager. Call LoadFromStore once at startup
// to restore the durable kill-switch flag before accepting intents.
func NewManager(cfg config.RiskConfig, st *store.Store, wallet WalletBalance, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  st,
		wallet: wallet,
		logger: logger.With("component", "risk"),
	}
}

// SetDrainer wires the order manager's cancel-all capability in after
// construction, breaking the risk<->order-manager import cycle.
func (m *Manager) SetDrainer(d QueueDrainer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainer = d
}

// LoadFromStore restores the kill-switch flag from durable metadata —
// called once during orchestrator startup (spec §4.5: "on startup the
// risk manager reads the metadata flag and restores the active state").
func (m *Manager) LoadFromStore() error {
	val, ok, err := m.store.GetMetadata(store.KillSwitchKey)
	if err != nil {
		return fmt.Errorf("load kill switch state: %w", err)
	}
	m.mu.Lock()
	m.killSwitchActive = ok && val == "1"
	m.mu.Unlock()
	return nil
}

// Approve runs the twelve ordered checks against intent. The first
// failure short-circuits and is returned as the rejection reason.
func (m *Manager) Approve(ctx context.Context, intent types.Intent) types.ApprovalResult {
	m.mu.Lock()
	killSwitch := m.killSwitchActive
	halted := m.tradingHalted
	dailyHalt := m.dailyLossHalt
	m.mu.Unlock()

	// 1. Kill switch active.
	if killSwitch {
		return reject("kill switch active")
	}
	// 2. Trading paused.
	if halted {
		return reject("trading paused")
	}
	// 3. Daily-loss halt already set.
	if dailyHalt {
		return reject("daily loss halt active")
	}

	// 4. Portfolio value unknown or <= 0. Fail-closed.
	portfolioValue, err := m.portfolioValue(ctx)
	if err != nil || portfolioValue <= 0 {
		return reject("portfolio value unknown")
	}

	// 5. Daily-loss limit.
	dailyTotal, err := m.dailyTotal(ctx)
	if err != nil {
		return reject("daily pnl unknown")
	}
	if dailyTotal < 0 {
		lossPct := (-dailyTotal / portfolioValue) * 100
		if lossPct >= m.cfg.DailyLossLimitPct {
			m.mu.Lock()
			m.dailyLossHalt = true
			m.mu.Unlock()
			return reject("daily loss limit breached")
		}
	}

	// 6. Open-position count (OPEN + CLOSING).
	openCount, err := m.store.CountOpenPositions()
	if err != nil {
		return reject("open position count unknown")
	}
	if openCount >= m.cfg.MaxOpenPositions {
		return reject("max open positions reached")
	}

	// 7. One market, one live position (unless this is an exit).
	if !intent.Metadata.IsExit {
		existing, err := m.store.GetOpenPositionForMarket(intent.MarketID)
		if err != nil {
			return reject("open position lookup failed")
		}
		if existing != nil {
			return reject("position already open on this market")
		}
	}

	// 8. Max position size as a percent of the portfolio.
	if intent.Notional/portfolioValue*100 > m.cfg.MaxPositionPct {
		return reject("exceeds max position pct")
	}

	// 9. Minimum position size (fee-floor protection).
	if intent.Notional < m.cfg.MinPositionSizeUSD {
		return reject("below min position size")
	}

	// 10. Per-strategy allocation cap.
	if cap, ok := m.cfg.StrategyAllocations[intent.Strategy]; ok && cap > 0 {
		exposure, err := m.strategyExposure(intent.Strategy)
		if err != nil {
			return reject("strategy exposure lookup failed")
		}
		if exposure+intent.Notional > cap {
			return reject("exceeds strategy allocation cap")
		}
	}

	// 11. Cash reserve. Fail-closed on any wallet read error.
	balance, err := m.wallet.QuoteBalance(ctx)
	if err != nil {
		return reject("wallet balance unavailable")
	}
	if balance-intent.Notional < portfolioValue*m.cfg.MinCashReservePct/100 {
		return reject("below min cash reserve")
	}

	// 12. Minimum edge, when the intent carries an edge estimate.
	if intent.Metadata.EdgePct != nil && *intent.Metadata.EdgePct < m.cfg.MinEdgePct {
		return reject("below min edge pct")
	}

	return types.ApprovalResult{Approved: true}
}

func reject(reason string) types.ApprovalResult {
	return types.ApprovalResult{Approved: false, Reason: reason}
}

// portfolioValue = wallet quote balance + sum (current_price or entry_price)
// * size over open positions. A wallet read failure yields 0, which rule 4
// rejects (fail-closed).
func (m *Manager) portfolioValue(ctx context.Context) (float64, error) {
	balance, err := m.wallet.QuoteBalance(ctx)
	if err != nil {
		return 0, nil
	}

	positions, err := m.store.GetOpenPositions("")
	if err != nil {
		return 0, err
	}

	total := balance
	for _, p := range positions {
		price := p.EntryPrice
		if p.CurrentPrice != nil {
			price = *p.CurrentPrice
		}
		total += price * p.Size
	}
	return total, nil
}

// dailyTotal = realized P&L closed today + sum of unrealized over open positions.
func (m *Manager) dailyTotal(ctx context.Context) (float64, error) {
	realizedToday, err := m.store.GetTodayRealizedPnL()
	if err != nil {
		return 0, err
	}

	positions, err := m.store.GetOpenPositions("")
	if err != nil {
		return 0, err
	}
	unrealized := 0.0
	for _, p := range positions {
		unrealized += p.UnrealizedPnL
	}

	return realizedToday + unrealized, nil
}

// strategyExposure sums entry_price * size over a strategy's open positions.
func (m *Manager) strategyExposure(strategy string) (float64, error) {
	positions, err := m.store.GetOpenPositions(strategy)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, p := range positions {
		total += p.EntryPrice * p.Size
	}
	return total, nil
}

// Activate engages the kill switch: persists the durable flag, then drains
// the order manager's queue and cancels all resting orders.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	m.killSwitchActive = true
	drainer := m.drainer
	m.mu.Unlock()

	if err := m.store.SetMetadata(store.KillSwitchKey, "1"); err != nil {
		return fmt.Errorf("persist kill switch: %w", err)
	}
	m.logger.Error("KILL SWITCH ACTIVATED")

	if drainer != nil {
		if err := drainer.CancelAll(ctx); err != nil {
			m.logger.Error("cancel all during kill switch failed", "error", err)
			return err
		}
	}
	return nil
}

// Deactivate clears both the kill switch and the daily-loss halt.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	m.killSwitchActive = false
	m.dailyLossHalt = false
	m.mu.Unlock()

	if err := m.store.SetMetadata(store.KillSwitchKey, "0"); err != nil {
		return fmt.Errorf("persist kill switch: %w", err)
	}
	m.logger.Info("kill switch deactivated")
	return nil
}

// Pause sets the in-memory trading-halted flag. State is never persisted.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingHalted = true
	m.logger.Warn("trading paused")
}

// Resume clears trading-halted and the daily-loss halt, but never the
// kill switch (only Deactivate clears that).
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingHalted = false
	m.dailyLossHalt = false
	m.logger.Info("trading resumed")
}

// Status is a point-in-time snapshot for the CLI --status surface.
type Status struct {
	KillSwitchActive bool
	TradingHalted    bool
	DailyLossHalt    bool
}

// GetStatus returns the current flag state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		KillSwitchActive: m.killSwitchActive,
		TradingHalted:    m.tradingHalted,
		DailyLossHalt:    m.dailyLossHalt,
	}
}
