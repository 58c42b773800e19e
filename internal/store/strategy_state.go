package store

import "database/sql"

// SaveStrategyState persists an opaque JSON blob for a strategy, upserting
// by strategy name.
func (s *Store) SaveStrategyState(strategy string, stateJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO strategy_state (strategy, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(strategy) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		strategy, stateJSON, utcNow(),
	)
	return err
}

// LoadStrategyState returns the last-saved state blob, or "" if none exists.
func (s *Store) LoadStrategyState(strategy string) (string, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM strategy_state WHERE strategy = ?`, strategy).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return state, err
}
