package store

import "database/sql"

// KillSwitchKey is the durable metadata key the risk manager mirrors its
// in-memory kill-switch flag to (spec §6.5, §9): a restart re-reads this
// key instead of trusting transient process state.
const KillSwitchKey = "risk.kill_switch_active"

// SetMetadata upserts a key/value pair in the bot_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO bot_metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, utcNow(),
	)
	return err
}

// GetMetadata reads a value by key, returning "", false if absent.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
