package store

import (
	"database/sql"
	"errors"
)

// WalletPerformance is a running tally of how well a tracked external
// account's mirrored trades have performed, kept for the mirror strategy's
// supplemental per-wallet reporting.
type WalletPerformance struct {
	AccountID  string
	TradeCount int
	WinCount   int
	TotalPnL   float64
	UpdatedAt  string
}

// RecordWalletTrade folds one realized trade outcome into an account's
// running performance tally.
func (s *Store) RecordWalletTrade(accountID string, realizedPnL float64) error {
	win := 0
	if realizedPnL > 0 {
		win = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO wallet_performance (account_id, trade_count, win_count, total_pnl, updated_at)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			trade_count = trade_count + 1,
			win_count = win_count + ?,
			total_pnl = total_pnl + ?,
			updated_at = ?`,
		accountID, win, realizedPnL, utcNow(),
		win, realizedPnL, utcNow(),
	)
	return err
}

// GetWalletPerformance returns one account's tally, or a zero-value
// WalletPerformance if nothing has been recorded yet.
func (s *Store) GetWalletPerformance(accountID string) (WalletPerformance, error) {
	var p WalletPerformance
	p.AccountID = accountID
	row := s.db.QueryRow(
		`SELECT trade_count, win_count, total_pnl, updated_at FROM wallet_performance WHERE account_id = ?`,
		accountID,
	)
	err := row.Scan(&p.TradeCount, &p.WinCount, &p.TotalPnL, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, nil
		}
		return p, err
	}
	return p, nil
}

// GetAllWalletPerformance returns every tracked account's tally.
func (s *Store) GetAllWalletPerformance() ([]WalletPerformance, error) {
	rows, err := s.db.Query(`SELECT account_id, trade_count, win_count, total_pnl, updated_at FROM wallet_performance`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WalletPerformance
	for rows.Next() {
		var p WalletPerformance
		if err := rows.Scan(&p.AccountID, &p.TradeCount, &p.WinCount, &p.TotalPnL, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
