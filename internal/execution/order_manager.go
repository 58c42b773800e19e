// Package execution implements the Order Manager (C6): the single choke
// point every approved trading intent passes through on its way to the
// exchange — risk gate, rate limiter, submission, fill confirmation, and
// exit-retry/rollback handling.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

const (
	queueCapacity       = 100
	fillConfirmDelay    = 500 * time.Millisecond
	maxExitRetries      = 3
)

// Approver is the risk gate every intent must pass (satisfied by risk.Manager).
type Approver interface {
	Approve(ctx context.Context, intent types.Intent) types.ApprovalResult
}

// Adapter is the subset of the exchange client the order manager drives.
type Adapter interface {
	SubmitOrder(ctx context.Context, tokenID string, side types.Side, price, sizeShares float64, discipline types.Discipline, expiration int64) types.OrderResult
	CancelAllOrders(ctx context.Context) (bool, error)
	ListOpenOrders(ctx context.Context) ([]types.OrderView, error)
}

// RateLimiter is the subset of exchange.RateLimiter the order manager drives.
type RateLimiter interface {
	Acquire(ctx context.Context) error
	RecordSuccess()
	RecordRateLimit()
}

// Notifier pushes a fire-and-forget notification once a position opens.
// Nil-safe: a Manager with no notifier simply skips the push.
type Notifier interface {
	NotifyPositionOpened(strategy, marketID string, side types.Side, price, size float64, reasoning, marketQuestion string)
}

// PositionCloser is the capability the order manager needs from the position
// manager to finalize an exit once its fill is confirmed, and to release the
// in-flight-close guard when an exit definitively fails. Modeled as an
// interface and injected after construction (SetCloser) to avoid a cyclic
// import — the position manager also needs to submit exit intents back into
// the order manager's queue.
type PositionCloser interface {
	ConfirmClose(positionID int64, realizedPnL float64, reason string) error
	ReleaseClosingGuard(positionID int64)
}

// Manager is the Order Manager (C6): a bounded queue drained by a single
// worker, so at most one exchange request is in flight at a time.
type Manager struct {
	risk     Approver
	adapter  Adapter
	rl       RateLimiter
	store    *store.Store
	notifier Notifier
	closer   PositionCloser
	paper    bool
	logger   *slog.Logger

	queue  chan types.Intent
	stopCh chan struct{}
	wg     sync.WaitGroup

	pairMu      sync.Mutex
	leg1Success map[string]bool // arb_pair_id -> leg 1 succeeded
}

// NewManager constructs an order manager. notifier may be nil.
func NewManager(risk Approver, adapter Adapter, rl RateLimiter, st *store.Store, notifier Notifier, paper bool, logger *slog.Logger) *Manager {
	return &Manager{
		risk:        risk,
		adapter:     adapter,
		rl:          rl,
		store:       st,
		notifier:    notifier,
		paper:       paper,
		logger:      logger.With("component", "order_manager"),
		queue:       make(chan types.Intent, queueCapacity),
		leg1Success: make(map[string]bool),
	}
}

// SetCloser wires the position manager's finalize/release capability in
// after construction, breaking the order-manager<->position-manager import
// cycle.
func (m *Manager) SetCloser(c PositionCloser) {
	m.closer = c
}

// Submit enqueues an intent without blocking. If the queue is full, the
// intent is dropped and logged rather than backing up the caller.
func (m *Manager) Submit(intent types.Intent) {
	select {
	case m.queue <- intent:
		m.logger.Info("intent queued", "strategy", intent.Strategy, "market_id", intent.MarketID, "side", intent.Side)
	default:
		m.logger.Error("intent queue full, dropping", "strategy", intent.Strategy, "market_id", intent.MarketID)
	}
}

// Start spawns the single worker goroutine and returns; the worker runs
// until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop signals the worker to exit after its current intent, if any.
func (m *Manager) Stop() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case intent := <-m.queue:
			m.process(ctx, intent)
		}
	}
}

// CancelAll satisfies risk.QueueDrainer: drain the queue, then cancel every
// resting order on the exchange.
func (m *Manager) CancelAll(ctx context.Context) error {
	drained := 0
	for {
		select {
		case <-m.queue:
			drained++
		default:
			if drained > 0 {
				m.logger.Warn("drained queued intents on kill switch", "count", drained)
			}
			_, err := m.adapter.CancelAllOrders(ctx)
			return err
		}
	}
}

// process runs one intent through risk, submission, and its success/failure
// branches, including exit retries and paired-order rollback.
func (m *Manager) process(ctx context.Context, intent types.Intent) {
	result, submitErr := m.attempt(ctx, intent)
	if submitErr != nil {
		m.logger.Info("intent dropped", "strategy", intent.Strategy, "reason", submitErr)
		return
	}

	if result.OK {
		m.onSuccess(ctx, intent, result)
		return
	}

	m.onFailure(ctx, intent, result)
}

// attempt runs risk approval, share sizing, rate-limit acquisition, and
// submission+fill-confirmation for a single intent. A non-nil error means
// the intent never reached the exchange (rejected or malformed) and should
// be dropped, not treated as an exchange failure.
func (m *Manager) attempt(ctx context.Context, intent types.Intent) (types.OrderResult, error) {
	approval := m.risk.Approve(ctx, intent)
	if !approval.Approved {
		return types.OrderResult{}, fmt.Errorf("risk rejected: %s", approval.Reason)
	}

	if intent.Price <= 0 {
		return types.OrderResult{}, fmt.Errorf("non-positive price")
	}
	shares := intent.Notional / intent.Price
	if shares <= 0 {
		return types.OrderResult{}, fmt.Errorf("non-positive share count")
	}

	if err := m.rl.Acquire(ctx); err != nil {
		return types.OrderResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	var result types.OrderResult
	if m.paper {
		result = types.OrderResult{OK: true, OrderID: fmt.Sprintf("paper-%d", time.Now().UnixNano()), Raw: map[string]string{"mode": "paper"}}
	} else {
		result = m.adapter.SubmitOrder(ctx, intent.TokenID, intent.Side, intent.Price, shares, intent.Discipline, 0)
	}

	if result.OK && intent.Discipline == types.ImmediateOrKill {
		result = m.confirmFill(ctx, result)
	}

	return result, nil
}

// confirmFill polls list_open_orders shortly after submission: an
// IMMEDIATE_OR_KILL order must be fully filled or gone. If it's still open,
// the result is coerced to a failure.
func (m *Manager) confirmFill(ctx context.Context, result types.OrderResult) types.OrderResult {
	if m.paper {
		return result
	}
	time.Sleep(fillConfirmDelay)
	open, err := m.adapter.ListOpenOrders(ctx)
	if err != nil {
		m.logger.Warn("fill confirmation lookup failed", "order_id", result.OrderID, "error", err)
		return result
	}
	for _, o := range open {
		if o.OrderID == result.OrderID {
			return types.OrderResult{OK: false, OrderID: result.OrderID, Error: "not filled"}
		}
	}
	return result
}

func (m *Manager) onSuccess(ctx context.Context, intent types.Intent, result types.OrderResult) {
	m.rl.RecordSuccess()

	if intent.Metadata.ArbLeg == 1 && intent.Metadata.ArbPairID != "" {
		m.pairMu.Lock()
		m.leg1Success[intent.Metadata.ArbPairID] = true
		m.pairMu.Unlock()
	}

	var openedPositionID int64
	txErr := m.store.Transaction(func() error {
		if _, err := m.store.RecordTrade(store.Trade{
			OrderID: result.OrderID, Strategy: intent.Strategy, MarketID: intent.MarketID,
			TokenID: intent.TokenID, Side: intent.Side, Price: intent.Price,
			Size: intent.Notional / intent.Price, OrderType: string(intent.Discipline),
			Reasoning: intent.Reasoning, Metadata: intent.Metadata,
		}); err != nil {
			return err
		}

		if !intent.Metadata.IsExit && intent.Side == types.BUY {
			id, err := m.store.OpenPosition(store.Position{
				MarketID: intent.MarketID, TokenID: intent.TokenID, Strategy: intent.Strategy,
				Side: intent.Side, EntryPrice: intent.Price, Size: intent.Notional / intent.Price,
				StopLossPrice: intent.Metadata.StopLossPrice, Metadata: intent.Metadata,
			})
			if err != nil {
				return err
			}
			openedPositionID = id
		}
		return nil
	})
	if txErr != nil {
		m.logger.Error("failed to record successful trade", "order_id", result.OrderID, "error", txErr)
		return
	}

	if openedPositionID != 0 && m.notifier != nil {
		m.notifier.NotifyPositionOpened(intent.Strategy, intent.MarketID, intent.Side, intent.Price,
			intent.Notional/intent.Price, intent.Reasoning, intent.Metadata.MarketQuestion)
	}

	// A full-close exit carries RealizedPnL; a partial take-profit-tier exit
	// does not and has nothing to finalize here (UpdatePositionPartialClose
	// already recorded it synchronously on submission).
	if intent.Metadata.IsExit && intent.Metadata.RealizedPnL != nil && m.closer != nil {
		if err := m.closer.ConfirmClose(intent.Metadata.PositionID, *intent.Metadata.RealizedPnL, intent.Metadata.CloseReason); err != nil {
			m.logger.Error("failed to finalize closed position", "position_id", intent.Metadata.PositionID, "error", err)
		}
	}
}

func (m *Manager) onFailure(ctx context.Context, intent types.Intent, result types.OrderResult) {
	if isRateLimitError(result.Error) {
		m.rl.RecordRateLimit()
	}
	m.logger.Warn("order failed", "strategy", intent.Strategy, "market_id", intent.MarketID, "error", result.Error)

	if intent.Metadata.IsExit {
		m.retryExit(ctx, intent)
		return
	}

	if intent.Metadata.ArbLeg == 2 {
		m.rollbackIfLeg1Succeeded(ctx, intent)
	}
}

// retryExit re-runs risk and submission up to maxExitRetries times with
// 2^n second backoff, non-recursively.
func (m *Manager) retryExit(ctx context.Context, intent types.Intent) {
	for n := 1; n <= maxExitRetries; n++ {
		backoff := time.Duration(1<<uint(n)) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		result, err := m.attempt(ctx, intent)
		if err != nil {
			m.logger.Info("exit retry aborted", "attempt", n, "reason", err)
			return
		}
		if result.OK {
			m.onSuccess(ctx, intent, result)
			return
		}
		if isRateLimitError(result.Error) {
			m.rl.RecordRateLimit()
		}
		m.logger.Warn("exit retry failed", "attempt", n, "error", result.Error)
	}
	m.logger.Error("exit retries exhausted", "market_id", intent.MarketID, "token_id", intent.TokenID)
	if intent.Metadata.PositionID != 0 && m.closer != nil {
		m.closer.ReleaseClosingGuard(intent.Metadata.PositionID)
	}
}

// rollbackIfLeg1Succeeded submits the compensating SELL when a paired
// order's leg 1 already filled and leg 2 just failed.
func (m *Manager) rollbackIfLeg1Succeeded(ctx context.Context, intent types.Intent) {
	m.pairMu.Lock()
	succeeded := m.leg1Success[intent.Metadata.ArbPairID]
	delete(m.leg1Success, intent.Metadata.ArbPairID)
	m.pairMu.Unlock()
	if !succeeded {
		return
	}

	if intent.Metadata.ArbRollbackTokenID == "" {
		m.logger.Error("leg 2 failed but rollback metadata missing", "arb_pair_id", intent.Metadata.ArbPairID)
		return
	}

	rollback := types.Intent{
		Strategy: intent.Strategy, MarketID: intent.MarketID,
		TokenID:  intent.Metadata.ArbRollbackTokenID,
		Side:     types.SELL,
		Price:    intent.Metadata.ArbRollbackPrice,
		Notional: intent.Metadata.ArbRollbackNotional,
		Discipline: types.ImmediateOrKill,
		Urgency:    types.High,
		Reasoning:  "arb rollback: " + intent.Metadata.ArbRollbackReason,
		Metadata:   types.Metadata{IsExit: true},
	}

	// Bypasses the queue: this runs synchronously from the worker itself.
	result, err := m.attempt(ctx, rollback)
	if err != nil {
		m.logger.Error("rollback submission rejected", "arb_pair_id", intent.Metadata.ArbPairID, "reason", err)
		return
	}
	if result.OK {
		m.onSuccess(ctx, rollback, result)
		return
	}
	m.logger.Error("rollback order failed, leg 1 left naked", "arb_pair_id", intent.Metadata.ArbPairID, "error", result.Error)
	if rollback.Metadata.PositionID != 0 && m.closer != nil {
		m.closer.ReleaseClosingGuard(rollback.Metadata.PositionID)
	}
}

func isRateLimitError(errText string) bool {
	lower := strings.ToLower(errText)
	return strings.Contains(lower, "rate") || strings.Contains(lower, "429")
}
