// Package notify is the engine's Notifier (C9's notification surface):
// a WebSocket hub that broadcasts position/risk events to connected
// operator clients, a JSON status snapshot endpoint, and a minimal
// operator command channel carried over the same socket.
//
// Adapted from the teacher's dashboard package: same Hub/Client pump
// design and origin-checking handshake, repointed at this engine's
// trading events instead of market-making quote/fill events.
package notify

import "time"

// Event is the wire envelope for every message pushed to a connected client.
type Event struct {
	Type      string      `json:"type"` // "status", "position_opened", "position_closed", "kill_switch", "command_reply"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PositionOpenedPayload is pushed once a BUY intent's trade is recorded
// and a position is opened.
type PositionOpenedPayload struct {
	Strategy       string  `json:"strategy"`
	MarketID       string  `json:"market_id"`
	MarketQuestion string  `json:"market_question"`
	Side           string  `json:"side"`
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	Reasoning      string  `json:"reasoning"`
}

// PositionClosedPayload is pushed when a full exit is submitted for a
// position (it is marked CLOSING, before the exit fill is confirmed) and
// when a position is settled on market resolution.
type PositionClosedPayload struct {
	Strategy       string  `json:"strategy"`
	MarketID       string  `json:"market_id"`
	MarketQuestion string  `json:"market_question"`
	Reason         string  `json:"reason"`
	RealizedPnL    float64 `json:"realized_pnl"`
	PnLPct         float64 `json:"pnl_pct"`
	HoldSeconds    float64 `json:"hold_seconds"`
}

// KillSwitchPayload is pushed whenever the kill switch activates.
type KillSwitchPayload struct {
	Reason string `json:"reason"`
}

// StatusSnapshot is the full operator status view: the JSON body of
// `--status` and of the `status` chat command, and also the payload of
// the "status" event pushed to every newly connected client.
type StatusSnapshot struct {
	Timestamp       time.Time           `json:"timestamp"`
	TradingMode     string              `json:"trading_mode"`
	KillSwitch      bool                `json:"kill_switch_active"`
	TradingHalted   bool                `json:"trading_halted"`
	DailyLossHalt   bool                `json:"daily_loss_halt"`
	OpenPositions   int                 `json:"open_positions"`
	RealizedPnLToday  float64           `json:"realized_pnl_today"`
	UnrealizedPnL   float64             `json:"unrealized_pnl"`
	Strategies      []StrategyStatus    `json:"strategies"`
}

// StrategyStatus is one strategy's row in a status snapshot.
type StrategyStatus struct {
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}
