// Package strategy implements the Strategy Runtime (C8): the base
// evaluation-loop contract every strategy shares, and the mirror strategy
// worked example built on top of it.
package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Himasai10/polymarket/internal/store"
	"github.com/Himasai10/polymarket/pkg/types"
)

// Approver is the risk gate a strategy's intents pass through before
// reaching the order queue.
type Approver interface {
	Approve(ctx context.Context, intent types.Intent) types.ApprovalResult
}

// Submitter enqueues an approved intent for execution.
type Submitter interface {
	Submit(intent types.Intent)
}

// Evaluator is implemented by each concrete strategy: the work done once
// per evaluation cycle, returning the intents to submit.
type Evaluator interface {
	Initialize(ctx context.Context) error
	Evaluate(ctx context.Context) ([]types.Intent, error)
	Shutdown(ctx context.Context) error
}

// Runner drives one strategy's evaluation loop: load persisted state, call
// Initialize once, then call Evaluate on a ticker and submit every returned
// intent through the risk gate. A strategy never touches the exchange
// adapter or the store's trade/position writers directly — only through
// the Approver/Submitter it's handed.
type Runner struct {
	name         string
	eval         Evaluator
	risk         Approver
	orders       Submitter
	store        *store.Store
	evalInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner constructs a strategy runner.
func NewRunner(name string, eval Evaluator, risk Approver, orders Submitter, st *store.Store, evalInterval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		name:         name,
		eval:         eval,
		risk:         risk,
		orders:       orders,
		store:        st,
		evalInterval: evalInterval,
		logger:       logger.With("strategy", name),
	}
}

// Start loads persisted state (via the concrete strategy's own state
// hooks), calls Initialize, and spawns the evaluation loop.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.eval.Initialize(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("strategy started", "eval_interval", r.evalInterval)
	return nil
}

// Stop cancels the evaluation loop and calls Shutdown once it exits.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return r.eval.Shutdown(ctx)
}

// Pause stops the loop from running further cycles without tearing down
// strategy state.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.logger.Info("strategy paused")
}

// Resume re-enables evaluation cycles.
func (r *Runner) Resume() {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	r.logger.Info("strategy resumed")
}

// IsPaused reports whether the loop is currently skipping evaluation cycles.
func (r *Runner) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.running
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			paused := !r.running
			r.mu.Unlock()
			if paused {
				continue
			}
			r.runCycle(ctx)
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) {
	intents, err := r.eval.Evaluate(ctx)
	if err != nil {
		r.logger.Error("evaluation cycle failed", "error", err)
		return
	}
	for _, intent := range intents {
		r.emit(ctx, intent)
	}
}

// emit is the only path a strategy's intents take to the order queue: a
// synchronous risk check followed by a non-blocking enqueue.
func (r *Runner) emit(ctx context.Context, intent types.Intent) {
	approval := r.risk.Approve(ctx, intent)
	if !approval.Approved {
		r.logger.Warn("intent rejected", "market_id", intent.MarketID, "reason", approval.Reason)
		return
	}
	r.orders.Submit(intent)
	r.logger.Info("intent emitted", "market_id", intent.MarketID, "token_id", intent.TokenID, "side", intent.Side)
}

// SaveState persists an arbitrary JSON-serializable state value for this
// strategy, called by the strategy itself inside Shutdown.
func (r *Runner) SaveState(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.SaveStrategyState(r.name, string(b))
}

// LoadState loads this strategy's persisted state into v, if any exists.
func (r *Runner) LoadState(v any) error {
	raw, err := r.store.LoadStrategyState(r.name)
	if err != nil || raw == "" {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
