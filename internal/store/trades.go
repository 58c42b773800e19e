package store

import (
	"encoding/json"
	"time"

	"github.com/Himasai10/polymarket/pkg/types"
)

// Trade is a persisted row of the trades table.
type Trade struct {
	ID        int64
	OrderID   string
	Strategy  string
	MarketID  string
	TokenID   string
	Side      types.Side
	Price     float64
	Size      float64
	OrderType string
	Status    types.OrderStatus
	Reasoning string
	Fees      float64
	FillPrice *float64
	FillSize  *float64
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  types.Metadata
}

// RecordTrade inserts a trade row. If order_id already exists, the
// existing row's id is returned and no history is overwritten
// (idempotent — spec invariant 4 / scenario S2).
func (s *Store) RecordTrade(t Trade) (int64, error) {
	now := utcNow()
	metaJSON, err := encodeMetadata(t.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO trades
			(order_id, strategy, market_id, token_id, side, price, size,
			 order_type, status, reasoning, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'SUBMITTED', ?, ?, ?, ?)`,
		t.OrderID, t.Strategy, t.MarketID, t.TokenID, string(t.Side), t.Price, t.Size,
		t.OrderType, t.Reasoning, now, now, metaJSON,
	)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		var existingID int64
		err := s.db.QueryRow(`SELECT id FROM trades WHERE order_id = ?`, t.OrderID).Scan(&existingID)
		return existingID, err
	}

	return res.LastInsertId()
}

// UpdateTradeStatus updates a trade's status and optional fill details.
func (s *Store) UpdateTradeStatus(orderID string, status types.OrderStatus, fillPrice, fillSize *float64, fees *float64) error {
	_, err := s.db.Exec(
		`UPDATE trades SET status = ?, updated_at = ?,
			fill_price = COALESCE(?, fill_price),
			fill_size = COALESCE(?, fill_size),
			fees = COALESCE(?, fees)
		 WHERE order_id = ?`,
		string(status), utcNow(), fillPrice, fillSize, fees, orderID,
	)
	return err
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func encodeMetadata(m types.Metadata) (any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMetadata(raw *string) types.Metadata {
	var m types.Metadata
	if raw == nil || *raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(*raw), &m)
	return m
}
