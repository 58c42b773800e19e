package notify

import (
	"time"

	"github.com/Himasai10/polymarket/pkg/types"
)

// Notifier wraps a Hub to satisfy execution.Notifier and
// execution.ExitNotifier, translating position lifecycle callbacks into
// broadcast events for connected operator clients.
type Notifier struct {
	hub *Hub
}

// NewNotifier wraps hub as an execution-facing notifier.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// NotifyPositionOpened implements execution.Notifier.
func (n *Notifier) NotifyPositionOpened(strategy, marketID string, side types.Side, price, size float64, reasoning, marketQuestion string) {
	n.hub.Broadcast(Event{
		Type:      "position_opened",
		Timestamp: time.Now(),
		Data: PositionOpenedPayload{
			Strategy:       strategy,
			MarketID:       marketID,
			MarketQuestion: marketQuestion,
			Side:           string(side),
			Price:          price,
			Size:           size,
			Reasoning:      reasoning,
		},
	})
}

// NotifyPositionClosed implements execution.ExitNotifier.
func (n *Notifier) NotifyPositionClosed(strategy, marketID, reason string, realizedPnL, pnlPct float64, holdDuration time.Duration, marketQuestion string) {
	n.hub.Broadcast(Event{
		Type:      "position_closed",
		Timestamp: time.Now(),
		Data: PositionClosedPayload{
			Strategy:       strategy,
			MarketID:       marketID,
			MarketQuestion: marketQuestion,
			Reason:         reason,
			RealizedPnL:    realizedPnL,
			PnLPct:         pnlPct,
			HoldSeconds:    holdDuration.Seconds(),
		},
	})
}

// NotifyKillSwitch broadcasts a kill-switch activation, used by the
// engine's TriggerKillSwitch.
func (n *Notifier) NotifyKillSwitch(reason string) {
	n.hub.Broadcast(Event{
		Type:      "kill_switch",
		Timestamp: time.Now(),
		Data:      KillSwitchPayload{Reason: reason},
	})
}

// NotifyStatus broadcasts a full status snapshot to every connected
// client, used after each periodic P&L snapshot. A newly connected client
// gets its first snapshot from HandleWebSocket directly.
func (n *Notifier) NotifyStatus(snap StatusSnapshot) {
	n.hub.Broadcast(Event{
		Type:      "status",
		Timestamp: snap.Timestamp,
		Data:      snap,
	})
}
