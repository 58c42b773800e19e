package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/pnl"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

// Submitter is the subset of the order manager the position manager needs:
// enqueue an exit intent. Kept as an interface so tests don't need a real
// queue/worker.
type Submitter interface {
	Submit(intent types.Intent)
}

// ExitNotifier pushes a fire-and-forget notification when a position closes.
type ExitNotifier interface {
	NotifyPositionClosed(strategy, marketID, reason string, realizedPnL, pnlPct float64, holdDuration time.Duration, marketQuestion string)
}

// PositionManager evaluates stop-loss, trailing-stop, and take-profit rules
// on every streaming price update, and settles positions on market
// resolution. It never calls the exchange adapter or the store's
// trade/order writers directly — exits flow through the Submitter.
type PositionManager struct {
	store     *store.Store
	orders    Submitter
	notifier  ExitNotifier
	riskCfg   config.RiskConfig
	logger    *slog.Logger

	closingMu sync.Mutex
	closing   map[int64]bool // in-flight-close guard
}

// NewPositionManager constructs a position manager. notifier may be nil.
// riskCfg supplies the stop-loss/trailing-stop/take-profit-tier parameters
// applied to every position this engine manages.
func NewPositionManager(st *store.Store, orders Submitter, notifier ExitNotifier, riskCfg config.RiskConfig, logger *slog.Logger) *PositionManager {
	return &PositionManager{
		store:    st,
		orders:   orders,
		notifier: notifier,
		riskCfg:  riskCfg,
		logger:   logger.With("component", "position_manager"),
		closing:  make(map[int64]bool),
	}
}

// OnPriceUpdate is registered as a streaming-client price callback. It
// evaluates every OPEN position on tokenID against the stop-loss,
// trailing-stop, and take-profit rules in that exact order, triggering at
// most one take-profit tier per update.
func (pm *PositionManager) OnPriceUpdate(tokenID string, price float64, ts time.Time) {
	positions, err := pm.store.GetOpenPositions("")
	if err != nil {
		pm.logger.Error("failed to load open positions for price update", "error", err)
		return
	}

	for _, p := range positions {
		if p.TokenID != tokenID || p.Status != types.PositionOpen {
			continue
		}
		if pm.isClosing(p.ID) {
			continue
		}
		pm.evaluate(p, price)
	}
}

func (pm *PositionManager) evaluate(p store.Position, price float64) {
	cfg := pm.tierConfig(p.Strategy)

	if err := pm.store.UpdatePositionPrice(p.ID, price); err != nil {
		pm.logger.Error("failed to update position price", "position_id", p.ID, "error", err)
	}

	pnlPct := pnl.PnLPct(p.Side, p.EntryPrice, price)

	if pnlPct <= -cfg.StopLossPct {
		pm.closePosition(p, price, "stop_loss", pnlPct)
		return
	}

	if p.TrailingStopPrice != nil {
		trail := *p.TrailingStopPrice
		if (p.Side == types.BUY && price <= trail) || (p.Side == types.SELL && price >= trail) {
			pm.closePosition(p, price, "trailing_stop", pnlPct)
			return
		}
	}

	for i, tier := range cfg.TakeProfitTiers {
		if i < p.TakeProfitTriggered {
			continue
		}
		if pnlPct < tier.GainPct {
			break
		}

		if tier.SellPct >= 100 {
			pm.closePosition(p, price, "take_profit", pnlPct)
			return
		}

		sellSize := p.Size * tier.SellPct / 100
		pm.partialClose(p, price, sellSize, i+1, cfg.TrailingStopPct)
		break // at most one tier triggers per update
	}

	// p is the snapshot loaded before this update, so a trailing stop first
	// set by partialClose above is not ratcheted until the next update.
	if p.TrailingStopPrice != nil && pnlPct > 0 {
		pm.ratchetTrailingStop(p, price, cfg.TrailingStopPct)
	}
}

// ratchetTrailingStop only ever moves the floor up (BUY) or the ceiling
// down (SELL), never loosening a stop that is already set.
func (pm *PositionManager) ratchetTrailingStop(p store.Position, price, trailingPct float64) {
	current := *p.TrailingStopPrice
	var next float64
	if p.Side == types.BUY {
		next = price * (1 - trailingPct/100)
		if next <= current {
			return
		}
	} else {
		next = price * (1 + trailingPct/100)
		if next >= current {
			return
		}
	}
	if err := pm.store.UpdatePositionTrailingStop(p.ID, next); err != nil {
		pm.logger.Error("failed to ratchet trailing stop", "position_id", p.ID, "error", err)
	}
}

// closePosition submits a full exit and transitions OPEN -> CLOSING,
// guarding against a duplicate exit from a concurrent price update.
func (pm *PositionManager) closePosition(p store.Position, exitPrice float64, reason string, pnlPct float64) {
	if !pm.markClosing(p.ID) {
		pm.logger.Warn("duplicate close blocked", "position_id", p.ID)
		return
	}

	realized := pnl.Realized(p.Side, p.EntryPrice, exitPrice, p.Size)
	pm.submitExit(p, exitPrice, p.Size, reason, pnlPct, &realized)

	if err := pm.store.SetPositionClosing(p.ID, reason); err != nil {
		pm.logger.Error("failed to mark position closing", "position_id", p.ID, "error", err)
	}

	if pm.notifier != nil {
		hold := time.Since(p.OpenedAt)
		pm.notifier.NotifyPositionClosed(p.Strategy, p.MarketID, reason, realized, pnlPct, hold, p.Metadata.MarketQuestion)
	}
}

// partialClose sells a fraction of the position and advances the
// take-profit tier counter. On the first tier it also initializes the
// trailing stop.
func (pm *PositionManager) partialClose(p store.Position, price, sellSize float64, tier int, trailingPct float64) {
	pm.submitExit(p, price, sellSize, fmt.Sprintf("take_profit_tier_%d", tier), 0, nil)

	remaining := p.Size - sellSize
	if err := pm.store.UpdatePositionPartialClose(p.ID, remaining, tier); err != nil {
		pm.logger.Error("failed to record partial close", "position_id", p.ID, "error", err)
	}

	if p.TrailingStopPrice == nil {
		var trail float64
		if p.Side == types.BUY {
			trail = price * (1 - trailingPct/100)
		} else {
			trail = price * (1 + trailingPct/100)
		}
		if err := pm.store.UpdatePositionTrailingStop(p.ID, trail); err != nil {
			pm.logger.Error("failed to set trailing stop", "position_id", p.ID, "error", err)
		}
	}
}

func (pm *PositionManager) submitExit(p store.Position, price, size float64, reason string, pnlPct float64, realized *float64) {
	exitSide := types.SELL
	if p.Side == types.SELL {
		exitSide = types.BUY
	}

	meta := types.Metadata{IsExit: true, PositionID: p.ID, RealizedPnL: realized, CloseReason: reason}
	pm.orders.Submit(types.Intent{
		Strategy: p.Strategy, MarketID: p.MarketID, TokenID: p.TokenID,
		Side: exitSide, Price: price, Notional: size * price,
		Discipline: types.ImmediateOrKill, Urgency: types.High,
		Reasoning: fmt.Sprintf("%s (P&L: %.1f%%)", reason, pnlPct),
		Metadata:  meta,
	})
}

// ConfirmClose finalizes a position's closure once the exit order's fill
// is confirmed: OPEN/CLOSING -> CLOSED, releasing the in-flight guard.
func (pm *PositionManager) ConfirmClose(positionID int64, realizedPnL float64, reason string) error {
	if err := pm.store.ClosePosition(positionID, realizedPnL, reason); err != nil {
		return err
	}
	pm.releaseClosing(positionID)
	return nil
}

// ReleaseClosingGuard releases the in-flight guard after a definitive exit
// failure so the next price update can retry the close.
func (pm *PositionManager) ReleaseClosingGuard(positionID int64) {
	pm.releaseClosing(positionID)
	pm.logger.Warn("closing guard released after exit failure", "position_id", positionID)
}

// Resolve settles every open position on marketID at the binary resolution
// price, winner-side fee applied only when the gross P&L is positive.
func (pm *PositionManager) Resolve(ctx context.Context, marketID, winningTokenID string) error {
	positions, err := pm.store.GetOpenPositions("")
	if err != nil {
		return err
	}

	for _, p := range positions {
		if p.MarketID != marketID {
			continue
		}

		won := p.TokenID == winningTokenID
		resolutionPrice := 0.0
		if (p.Side == types.BUY && won) || (p.Side == types.SELL && !won) {
			resolutionPrice = 1.0
		}

		realized := pnl.RealizedOnResolution(p.Side, p.EntryPrice, resolutionPrice, p.Size)

		pm.releaseClosing(p.ID)
		if err := pm.store.ClosePosition(p.ID, realized, "market_resolved"); err != nil {
			pm.logger.Error("failed to close resolved position", "position_id", p.ID, "error", err)
			continue
		}
		pm.logger.Info("position resolved", "position_id", p.ID, "market_id", marketID, "won", won, "realized_pnl", realized)
		if pm.notifier != nil {
			pnlPct := pnl.PnLPct(p.Side, p.EntryPrice, resolutionPrice)
			pm.notifier.NotifyPositionClosed(p.Strategy, p.MarketID, "market_resolved", realized, pnlPct, time.Since(p.OpenedAt), p.Metadata.MarketQuestion)
		}
	}
	return nil
}

func (pm *PositionManager) markClosing(positionID int64) bool {
	pm.closingMu.Lock()
	defer pm.closingMu.Unlock()
	if pm.closing[positionID] {
		return false
	}
	pm.closing[positionID] = true
	return true
}

func (pm *PositionManager) releaseClosing(positionID int64) {
	pm.closingMu.Lock()
	defer pm.closingMu.Unlock()
	delete(pm.closing, positionID)
}

func (pm *PositionManager) isClosing(positionID int64) bool {
	pm.closingMu.Lock()
	defer pm.closingMu.Unlock()
	return pm.closing[positionID]
}

// tierConfig resolves the stop-loss/trailing/take-profit parameters a
// position was opened under. Strategies could in principle carry their own
// risk config; this engine applies one global configuration to all.
func (pm *PositionManager) tierConfig(strategy string) config.RiskConfig {
	return pm.riskCfg
}
