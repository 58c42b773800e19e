package store

import (
	"database/sql"
	"time"

	"github.com/Himasai10/polymarket/pkg/types"
)

// Position is a persisted row of the positions table.
type Position struct {
	ID                  int64
	MarketID            string
	TokenID             string
	Strategy            string
	Side                types.Side
	EntryPrice          float64
	Size                float64
	CurrentPrice        *float64
	UnrealizedPnL       float64
	RealizedPnL         float64
	Status              types.PositionStatus
	StopLossPrice       *float64
	TakeProfitTriggered int
	TrailingStopPrice   *float64
	OpenedAt            time.Time
	ClosedAt            *time.Time
	CloseReason         string
	Metadata            types.Metadata
}

// OpenPosition inserts a new OPEN position with tier counter 0.
func (s *Store) OpenPosition(p Position) (int64, error) {
	metaJSON, err := encodeMetadata(p.Metadata)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO positions
			(market_id, token_id, strategy, side, entry_price, size,
			 current_price, status, stop_loss_price, opened_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'OPEN', ?, ?, ?)`,
		p.MarketID, p.TokenID, p.Strategy, string(p.Side), p.EntryPrice, p.Size,
		p.EntryPrice, p.StopLossPrice, utcNow(), metaJSON,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetPositionClosing transitions OPEN -> CLOSING only.
func (s *Store) SetPositionClosing(positionID int64, reason string) error {
	_, err := s.db.Exec(
		`UPDATE positions SET status = 'CLOSING', close_reason = ?
		 WHERE id = ? AND status = 'OPEN'`,
		reason, positionID,
	)
	return err
}

// ClosePosition transitions OPEN or CLOSING -> CLOSED, stamping closed_at.
func (s *Store) ClosePosition(positionID int64, realizedPnL float64, reason string) error {
	_, err := s.db.Exec(
		`UPDATE positions
		 SET status = 'CLOSED', realized_pnl = ?, close_reason = ?, closed_at = ?
		 WHERE id = ? AND status IN ('OPEN', 'CLOSING')`,
		realizedPnL, reason, utcNow(), positionID,
	)
	return err
}

// UpdatePositionPrice recomputes unrealized P&L from (side, entry, size, current).
func (s *Store) UpdatePositionPrice(positionID int64, currentPrice float64) error {
	var entryPrice, size float64
	var side string
	err := s.db.QueryRow(
		`SELECT entry_price, size, side FROM positions WHERE id = ?`, positionID,
	).Scan(&entryPrice, &size, &side)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var unrealized float64
	if types.Side(side) == types.BUY {
		unrealized = (currentPrice - entryPrice) * size
	} else {
		unrealized = (entryPrice - currentPrice) * size
	}

	_, err = s.db.Exec(
		`UPDATE positions SET current_price = ?, unrealized_pnl = ? WHERE id = ?`,
		currentPrice, unrealized, positionID,
	)
	return err
}

// UpdatePositionTrailingStop sets the trailing-stop price.
func (s *Store) UpdatePositionTrailingStop(positionID int64, price float64) error {
	_, err := s.db.Exec(`UPDATE positions SET trailing_stop_price = ? WHERE id = ?`, price, positionID)
	return err
}

// UpdatePositionPartialClose shrinks the remaining size and advances the
// take-profit tier counter after a tier triggers.
func (s *Store) UpdatePositionPartialClose(positionID int64, remainingSize float64, tierTriggered int) error {
	_, err := s.db.Exec(
		`UPDATE positions SET size = ?, take_profit_triggered = ? WHERE id = ?`,
		remainingSize, tierTriggered, positionID,
	)
	return err
}

// CountOpenPositions counts OPEN union CLOSING positions (for risk limit checks).
func (s *Store) CountOpenPositions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM positions WHERE status IN ('OPEN', 'CLOSING')`).Scan(&n)
	return n, err
}

// GetOpenPositions returns OPEN union CLOSING positions, optionally
// filtered by strategy (both statuses need continued price monitoring).
func (s *Store) GetOpenPositions(strategy string) ([]Position, error) {
	query := `SELECT id, market_id, token_id, strategy, side, entry_price, size,
		current_price, unrealized_pnl, realized_pnl, status, stop_loss_price,
		take_profit_triggered, trailing_stop_price, opened_at, closed_at, close_reason, metadata
		FROM positions WHERE status IN ('OPEN', 'CLOSING')`
	args := []any{}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetOpenPositionForMarket returns the single live (OPEN or CLOSING)
// position on a market, if any — spec invariant: at most one exists.
func (s *Store) GetOpenPositionForMarket(marketID string) (*Position, error) {
	rows, err := s.db.Query(
		`SELECT id, market_id, token_id, strategy, side, entry_price, size,
			current_price, unrealized_pnl, realized_pnl, status, stop_loss_price,
			take_profit_triggered, trailing_stop_price, opened_at, closed_at, close_reason, metadata
		 FROM positions WHERE market_id = ? AND status IN ('OPEN', 'CLOSING') LIMIT 1`,
		marketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ps, err := scanPositions(rows)
	if err != nil || len(ps) == 0 {
		return nil, err
	}
	return &ps[0], nil
}

// GetClosedPositions returns closed positions, optionally filtered by strategy.
func (s *Store) GetClosedPositions(strategy string, limit int) ([]Position, error) {
	query := `SELECT id, market_id, token_id, strategy, side, entry_price, size,
		current_price, unrealized_pnl, realized_pnl, status, stop_loss_price,
		take_profit_triggered, trailing_stop_price, opened_at, closed_at, close_reason, metadata
		FROM positions WHERE status = 'CLOSED'`
	args := []any{}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY closed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]Position, error) {
	var out []Position
	for rows.Next() {
		var p Position
		var side, status string
		var openedAt string
		var closedAt, metaRaw sql.NullString
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.TokenID, &p.Strategy, &side, &p.EntryPrice, &p.Size,
			&p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &status, &p.StopLossPrice,
			&p.TakeProfitTriggered, &p.TrailingStopPrice, &openedAt, &closedAt, &p.CloseReason, &metaRaw,
		); err != nil {
			return nil, err
		}
		p.Side = types.Side(side)
		p.Status = types.PositionStatus(status)
		p.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		if closedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, closedAt.String)
			p.ClosedAt = &t
		}
		if metaRaw.Valid {
			p.Metadata = decodeMetadata(&metaRaw.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
