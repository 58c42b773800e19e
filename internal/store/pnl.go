package store

import "time"

// DailyPnL is a row of the daily_pnl table, keyed by UTC date.
type DailyPnL struct {
	Date            string
	StartingBalance float64
	EndingBalance   *float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	TradesCount     int
	Wins            int
	Losses          int
	FeesPaid        float64
}

// RecordDailyPnL initializes a daily P&L row if one doesn't already exist
// for the given date (idempotent — a restart mid-day must not reset it).
func (s *Store) RecordDailyPnL(date string, startingBalance float64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO daily_pnl (date, starting_balance) VALUES (?, ?)`,
		date, startingBalance,
	)
	return err
}

// GetTodayRealizedPnL sums realized P&L of positions closed on today's UTC date.
func (s *Store) GetTodayRealizedPnL() (float64, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var total float64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions
		 WHERE status = 'CLOSED' AND closed_at >= ?`,
		today,
	).Scan(&total)
	return total, err
}

// GetTodayClosedPositions returns every position closed on today's UTC
// date, used to tally the daily summary's trade count and win/loss split.
func (s *Store) GetTodayClosedPositions() ([]Position, error) {
	today := time.Now().UTC().Format("2006-01-02")
	rows, err := s.db.Query(
		`SELECT id, market_id, token_id, strategy, side, entry_price, size,
			current_price, unrealized_pnl, realized_pnl, status, stop_loss_price,
			take_profit_triggered, trailing_stop_price, opened_at, closed_at, close_reason, metadata
		 FROM positions WHERE status = 'CLOSED' AND closed_at >= ?`,
		today,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// UpdateDailyPnLEndOfDay finalizes the end-of-day summary row.
func (s *Store) UpdateDailyPnLEndOfDay(date string, d DailyPnL) error {
	_, err := s.db.Exec(
		`UPDATE daily_pnl SET ending_balance = ?, realized_pnl = ?, unrealized_pnl = ?,
			trades_count = ?, wins = ?, losses = ?, fees_paid = ?
		 WHERE date = ?`,
		d.EndingBalance, d.RealizedPnL, d.UnrealizedPnL, d.TradesCount, d.Wins, d.Losses, d.FeesPaid, date,
	)
	return err
}
