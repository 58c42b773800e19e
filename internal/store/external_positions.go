package store

// ExternalPositionRow is a stored snapshot of one tracked account's holding
// in one (market, token), used by the mirror strategy to detect changes
// across restarts.
type ExternalPositionRow struct {
	AccountID  string
	MarketID   string
	TokenID    string
	Size       float64
	AvgCost    *float64
	LastSeenAt string
}

// UpsertExternalPosition updates or inserts a tracked account's position.
func (s *Store) UpsertExternalPosition(r ExternalPositionRow) error {
	_, err := s.db.Exec(
		`INSERT INTO external_positions (account_id, market_id, token_id, size, avg_cost, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, market_id, token_id) DO UPDATE SET
			size = excluded.size, avg_cost = excluded.avg_cost, last_seen_at = excluded.last_seen_at`,
		r.AccountID, r.MarketID, r.TokenID, r.Size, r.AvgCost, utcNow(),
	)
	return err
}

// GetExternalPositions returns all stored positions for a tracked account.
func (s *Store) GetExternalPositions(accountID string) ([]ExternalPositionRow, error) {
	rows, err := s.db.Query(
		`SELECT account_id, market_id, token_id, size, avg_cost, last_seen_at
		 FROM external_positions WHERE account_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExternalPositionRow
	for rows.Next() {
		var r ExternalPositionRow
		if err := rows.Scan(&r.AccountID, &r.MarketID, &r.TokenID, &r.Size, &r.AvgCost, &r.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteExternalPosition removes a tracked position (the account fully exited).
func (s *Store) DeleteExternalPosition(accountID, marketID, tokenID string) error {
	_, err := s.db.Exec(
		`DELETE FROM external_positions WHERE account_id = ? AND market_id = ? AND token_id = ?`,
		accountID, marketID, tokenID,
	)
	return err
}
