package types

import "time"

// Discipline is an intent's order-lifetime policy.
type Discipline string

const (
	Resting           Discipline = "RESTING"             // stays on book until filled or cancelled
	ImmediateOrKill   Discipline = "IMMEDIATE_OR_KILL"    // fully fill now or cancel
	ImmediatePartialOK Discipline = "IMMEDIATE_PARTIAL_OK" // fill what's available now, cancel the rest
)

// Urgency hints how aggressively an intent should be executed.
type Urgency string

const (
	Normal Urgency = "NORMAL"
	High   Urgency = "HIGH"
)

// OrderStatus is the lifecycle state of a persisted order record.
type OrderStatus string

const (
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

// Metadata is the concrete variant type for the opaque metadata bags carried
// by intents, orders, and positions. All fields are optional. Extra is
// tagged json:"-" and nothing fills it, so keys not named here are dropped
// when metadata is encoded for or decoded from the store.
type Metadata struct {
	IsExit bool   `json:"is_exit,omitempty"`
	PositionID int64 `json:"position_id,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`

	SourceAccount      string  `json:"source_account,omitempty"`
	SourceAvgCost      float64 `json:"source_avg_cost,omitempty"`
	SourceCurrentValue float64 `json:"source_current_value,omitempty"`
	SlippagePct        float64 `json:"slippage_pct,omitempty"`

	ArbPairID         string  `json:"arb_pair_id,omitempty"`
	ArbLeg            int     `json:"arb_leg,omitempty"`
	ArbRollbackTokenID string `json:"arb_rollback_token_id,omitempty"`
	ArbRollbackPrice   float64 `json:"arb_rollback_price,omitempty"`
	ArbRollbackNotional float64 `json:"arb_rollback_notional,omitempty"`
	ArbRollbackReason   string  `json:"arb_rollback_reason,omitempty"`

	MarketQuestion string `json:"market_question,omitempty"`
	YesTokenID     string `json:"yes_token_id,omitempty"`
	NoTokenID      string `json:"no_token_id,omitempty"`

	EdgePct       *float64 `json:"edge_pct,omitempty"`
	StopLossPrice *float64 `json:"stop_loss_price,omitempty"`
	RealizedPnL   *float64 `json:"realized_pnl,omitempty"`

	Extra map[string]any `json:"-"`
}

// Intent is a strategy-emitted trading intent, immutable once created.
// Notional is always expressed in quote currency (spec §9 open question:
// "this spec picks notional everywhere"); the order manager converts to
// share count at execution time using the intent's price.
type Intent struct {
	Strategy   string
	MarketID   string
	TokenID    string
	Side       Side
	Price      float64 // limit price, 0 < price < 1
	Notional   float64 // quote-currency amount, > 0
	Discipline Discipline
	Urgency    Urgency
	Reasoning  string
	Metadata   Metadata
}

// OrderResult is the outcome of submitting an order through the exchange
// adapter — a result variant in place of exceptions (spec §9).
type OrderResult struct {
	OK      bool
	OrderID string
	Error   string
	Raw     any
}

// ApprovalResult is the outcome of a risk-manager gate check.
type ApprovalResult struct {
	Approved bool
	Reason   string
}

// StreamMessageKind discriminates the StreamMessage variant.
type StreamMessageKind int

const (
	StreamBook StreamMessageKind = iota
	StreamPriceChange
	StreamOther
)

// StreamMessage is a typed form of an inbound streaming-client message.
// The streaming client does not produce it: ws.go decodes inbound messages
// into its own inboundMessage type and dispatches on its event type field.
type StreamMessage struct {
	Kind      StreamMessageKind
	AssetID   string
	Price     float64
	Timestamp time.Time
}

// ExternalPosition is one row of an externally-observed account's holdings,
// as read through the exchange adapter's list_external_positions contract.
type ExternalPosition struct {
	MarketID string
	TokenID  string
	Size     float64 // shares
	AvgCost  float64
}

// OrderView is one row of the exchange's list_open_orders response.
type OrderView struct {
	OrderID  string
	MarketID string
	TokenID  string
	Price    float64
	Side     Side
}
