// Package engine is the central orchestrator (C9): it wires the
// exchange adapter, streaming client, risk manager, order manager,
// position manager, and strategy runners into one lifecycle, and drives
// every periodic background task (P&L snapshots, health checks, the
// daily summary, market-resolution polling).
//
// Lifecycle: New() → Start() → [runs until Stop()].
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/internal/exchange"
	"github.com/Himasai10/polymarket/internal/execution"
	"github.com/Himasai10/polymarket/internal/notify"
	"github.com/Himasai10/polymarket/internal/risk"
	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/internal/strategy"
	"github.com/Himasai10/polymarket/pkg/types"
)

const (
	pnlSnapshotInterval    = 5 * time.Minute
	healthCheckInterval    = 60 * time.Second
	resolutionPollInterval = 5 * time.Minute
)

// Engine is the orchestrator (C9).
type Engine struct {
	cfg    config.Config
	store  *store.Store
	auth   *exchange.Auth
	client *exchange.Client
	rl     *exchange.RateLimiter
	wallet *exchange.Wallet
	stream *exchange.StreamClient

	risk      *risk.Manager
	orders    *execution.Manager
	positions *execution.PositionManager

	runnersMu sync.RWMutex
	runners   map[string]*strategy.Runner

	notifyServer *notify.Server
	notifier     *notify.Notifier

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component: store → auth → rate limiter → adapter →
// wallet → risk → notifier → order manager → position manager → streaming
// client → strategies.
// No goroutines are started; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init auth: %w", err)
	}

	rl := exchange.NewRateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSeconds*float64(time.Second)), cfg.RateLimit.MaxBackoff)
	client := exchange.NewClient(cfg, auth, rl, logger)

	if !auth.HasL2Credentials() && cfg.TradingMode == "live" {
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	wallet, err := exchange.NewWallet(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init wallet: %w", err)
	}

	riskMgr := risk.NewManager(cfg.Risk, st, wallet, logger)
	if err := riskMgr.LoadFromStore(); err != nil {
		st.Close()
		return nil, fmt.Errorf("load risk state: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		store:   st,
		auth:    auth,
		client:  client,
		rl:      rl,
		wallet:  wallet,
		risk:    riskMgr,
		runners: make(map[string]*strategy.Runner),
		logger:  logger.With("component", "engine"),
	}

	dispatcher := notify.NewDispatcher(e, e)
	e.notifyServer = notify.NewServer(cfg.Health, e, dispatcher, logger)
	e.notifier = notify.NewNotifier(e.notifyServer.Hub())

	e.orders = execution.NewManager(riskMgr, client, rl, st, e.notifier, cfg.IsPaper(), logger)
	riskMgr.SetDrainer(e.orders)
	e.positions = execution.NewPositionManager(st, e.orders, e.notifier, cfg.Risk, logger)
	e.orders.SetCloser(e.positions)

	e.stream = exchange.NewStreamClient(cfg.API.WSMarketURL, "", logger)

	if cfg.Mirror.Enabled {
		mirror := strategy.NewMirror(cfg.Mirror, st, wallet, e.stream, client, client, e.stream, logger)
		interval := cfg.Mirror.PollInterval
		if interval <= 0 {
			interval = time.Minute
		}
		e.runners["mirror"] = strategy.NewRunner("mirror", mirror, riskMgr, e.orders, st, interval, logger)
	}

	return e, nil
}

// Start runs the orchestrator's full startup sequence and every
// long-lived background task.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.bootstrapDailyPnL(); err != nil {
		e.logger.Error("daily pnl bootstrap failed", "error", err)
	}

	e.stream.RegisterCallback(e.positions.OnPriceUpdate)

	if err := e.subscribeOpenPositions(); err != nil {
		e.logger.Error("failed to subscribe open position tokens", "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.notifyServer.Start(); err != nil {
			e.logger.Error("notify server stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.stream.Start(e.ctx)
	}()

	e.orders.Start(e.ctx)

	e.runnersMu.RLock()
	for name, r := range e.runners {
		if err := r.Start(e.ctx); err != nil {
			e.logger.Error("failed to start strategy", "strategy", name, "error", err)
		}
	}
	e.runnersMu.RUnlock()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runPeriodic(pnlSnapshotInterval, e.snapshotPnL) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runPeriodic(healthCheckInterval, e.healthCheck) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runPeriodic(resolutionPollInterval, e.pollResolutions) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runDailySummaryLoop() }()

	e.logger.Info("engine started", "trading_mode", e.cfg.TradingMode, "strategies", len(e.runners))
	return nil
}

// Stop runs the shutdown sequence: stop strategies, cancel live orders,
// stop the order manager, stop the streaming client, final P&L snapshot,
// stop the notify server, close the wallet RPC client, close the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()

	e.runnersMu.RLock()
	for name, r := range e.runners {
		if err := r.Stop(stopCtx); err != nil {
			e.logger.Error("failed to stop strategy", "strategy", name, "error", err)
		}
	}
	e.runnersMu.RUnlock()

	if !e.cfg.IsPaper() {
		if err := e.orders.CancelAll(stopCtx); err != nil {
			e.logger.Error("failed to cancel open orders on shutdown", "error", err)
		}
	}

	e.orders.Stop()
	e.stream.Stop()

	if err := e.snapshotPnL(); err != nil {
		e.logger.Error("final pnl snapshot failed", "error", err)
	}

	if err := e.notifyServer.Stop(); err != nil {
		e.logger.Error("failed to stop notify server", "error", err)
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.wallet.Close()
	e.store.Close()

	e.logger.Info("shutdown complete")
}

func (e *Engine) subscribeOpenPositions() error {
	positions, err := e.store.GetOpenPositions("")
	if err != nil {
		return err
	}
	tokens := make([]string, 0, len(positions))
	for _, p := range positions {
		tokens = append(tokens, p.TokenID)
	}
	if len(tokens) > 0 {
		e.stream.Subscribe(tokens)
	}
	return nil
}

func (e *Engine) bootstrapDailyPnL() error {
	balance, err := e.wallet.QuoteBalance(context.Background())
	if err != nil {
		e.logger.Warn("starting balance unavailable for daily pnl bootstrap", "error", err)
		balance = 0
	}
	return e.store.RecordDailyPnL(time.Now().UTC().Format("2006-01-02"), balance)
}

// runPeriodic runs fn once per interval until the engine's context is
// cancelled, with every sleep interruptible by that cancellation.
func (e *Engine) runPeriodic(interval time.Duration, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				e.logger.Error("periodic task failed", "error", err)
			}
		}
	}
}

func (e *Engine) snapshotPnL() error {
	realized, err := e.store.GetTodayRealizedPnL()
	if err != nil {
		return err
	}
	unrealized := e.totalUnrealizedPnL()
	e.notifier.NotifyStatus(e.Status())
	e.logger.Debug("pnl snapshot", "realized_today", realized, "unrealized", unrealized)
	return nil
}

func (e *Engine) totalUnrealizedPnL() float64 {
	positions, err := e.store.GetOpenPositions("")
	if err != nil {
		return 0
	}
	var total float64
	for _, p := range positions {
		total += p.UnrealizedPnL
	}
	return total
}

func (e *Engine) healthCheck() error {
	balance, err := e.wallet.QuoteBalance(context.Background())
	if err != nil {
		e.logger.Warn("health check: quote balance unavailable", "error", err)
	}
	gas, err := e.wallet.GasBalance(context.Background())
	if err != nil {
		e.logger.Warn("health check: gas balance unavailable", "error", err)
	} else if gas < 1.0 {
		e.logger.Warn("health check: gas balance low", "gas_balance", gas)
	}
	e.logger.Debug("health check ok", "quote_balance", balance)
	return nil
}

// pollResolutions lists the distinct markets of currently open positions
// and settles any the adapter reports as closed/resolved.
func (e *Engine) pollResolutions() error {
	positions, err := e.store.GetOpenPositions("")
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, p := range positions {
		if seen[p.MarketID] {
			continue
		}
		seen[p.MarketID] = true

		info, err := e.client.GetMarket(e.ctx, p.MarketID)
		if err != nil || info == nil || !info.Closed {
			continue
		}

		winner := e.resolveWinningToken(info)
		if winner == "" {
			e.logger.Warn("market resolved but winning token undetermined", "market_id", p.MarketID)
			continue
		}
		if err := e.positions.Resolve(e.ctx, p.MarketID, winner); err != nil {
			e.logger.Error("failed to settle resolved market", "market_id", p.MarketID, "error", err)
		}
	}
	return nil
}

// resolveWinningToken infers the winning outcome token from the last
// traded price of the Yes side — the adapter contract exposes no
// explicit winner field, so a resolved binary market's Yes token trading
// near 1.0 (vs. near 0.0) is the signal used.
func (e *Engine) resolveWinningToken(info *types.MarketInfo) string {
	price, err := e.client.LastPrice(e.ctx, info.YesTokenID)
	if err != nil || price == nil {
		return ""
	}
	if *price >= 0.5 {
		return info.YesTokenID
	}
	return info.NoTokenID
}

// runDailySummaryLoop sleeps until the next UTC midnight, emits the
// day's final summary, then repeats.
func (e *Engine) runDailySummaryLoop() {
	for {
		wait := time.Until(nextUTCMidnight())
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(wait):
			if err := e.emitDailySummary(); err != nil {
				e.logger.Error("daily pnl summary failed", "error", err)
			}
		}
	}
}

func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

func (e *Engine) emitDailySummary() error {
	date := time.Now().UTC().Format("2006-01-02")
	closed, err := e.store.GetTodayClosedPositions()
	if err != nil {
		return err
	}

	var realized float64
	var wins, losses int
	for _, p := range closed {
		realized += p.RealizedPnL
		if p.RealizedPnL >= 0 {
			wins++
		} else {
			losses++
		}
	}

	balance, err := e.wallet.QuoteBalance(context.Background())
	if err != nil {
		e.logger.Warn("daily summary: ending balance unavailable", "error", err)
	}

	if err := e.store.UpdateDailyPnLEndOfDay(date, store.DailyPnL{
		EndingBalance: &balance,
		RealizedPnL:   realized,
		UnrealizedPnL: e.totalUnrealizedPnL(),
		TradesCount:   len(closed),
		Wins:          wins,
		Losses:        losses,
	}); err != nil {
		return err
	}

	e.logger.Info("daily pnl summary", "date", date, "realized_pnl", realized, "trades", len(closed), "wins", wins, "losses", losses)
	return nil
}

// Status implements notify.StatusProvider.
func (e *Engine) Status() notify.StatusSnapshot {
	riskStatus := e.risk.GetStatus()
	openCount, _ := e.store.CountOpenPositions()
	realized, _ := e.store.GetTodayRealizedPnL()

	e.runnersMu.RLock()
	strategies := make([]notify.StrategyStatus, 0, len(e.runners))
	for name, r := range e.runners {
		strategies = append(strategies, notify.StrategyStatus{Name: name, Paused: r.IsPaused()})
	}
	e.runnersMu.RUnlock()

	return notify.StatusSnapshot{
		Timestamp:        time.Now(),
		TradingMode:      e.cfg.TradingMode,
		KillSwitch:       riskStatus.KillSwitchActive,
		TradingHalted:    riskStatus.TradingHalted,
		DailyLossHalt:    riskStatus.DailyLossHalt,
		OpenPositions:    openCount,
		RealizedPnLToday: realized,
		UnrealizedPnL:    e.totalUnrealizedPnL(),
		Strategies:       strategies,
	}
}

// DailyPnL implements notify.StrategyControl for the `pnl` chat command.
func (e *Engine) DailyPnL() (realized, unrealized float64) {
	realized, _ = e.store.GetTodayRealizedPnL()
	return realized, e.totalUnrealizedPnL()
}

// PauseStrategy implements notify.StrategyControl. An empty name pauses
// every registered strategy.
func (e *Engine) PauseStrategy(name string) error {
	e.runnersMu.RLock()
	defer e.runnersMu.RUnlock()
	if name == "" {
		for _, r := range e.runners {
			r.Pause()
		}
		return nil
	}
	r, ok := e.runners[name]
	if !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	r.Pause()
	return nil
}

// ResumeStrategy implements notify.StrategyControl. An empty name resumes
// every registered strategy.
func (e *Engine) ResumeStrategy(name string) error {
	e.runnersMu.RLock()
	defer e.runnersMu.RUnlock()
	if name == "" {
		for _, r := range e.runners {
			r.Resume()
		}
		return nil
	}
	r, ok := e.runners[name]
	if !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	r.Resume()
	return nil
}

// TriggerKillSwitch implements notify.StrategyControl: persists the
// kill-switch flag, drains the order queue, and broadcasts the event.
func (e *Engine) TriggerKillSwitch(reason string) error {
	if err := e.risk.Activate(context.Background()); err != nil {
		return err
	}
	e.notifier.NotifyKillSwitch(reason)
	return nil
}
