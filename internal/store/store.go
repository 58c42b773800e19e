// Package store is the engine's single relational persistence layer (C1).
//
// It owns every table the engine reads or writes — trades, positions,
// daily P&L, per-strategy state, externally-observed positions, and a
// key/value metadata table — and every other component reaches the
// database only through this package's operations. Grounded in the
// pack's modernc.org/sqlite (pure-Go, no cgo) usage and its versioned
// migration idiom: a schema_version table gated by sequential
// `if version < N { ... }` blocks. Replaces the teacher's flat
// JSON-file-per-position store, which cannot express the relational
// schema, WAL mode, or transactional upserts this component requires.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a single-writer SQLite connection.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database with
// WAL journaling, foreign keys, and a 5s busy timeout, then runs pending
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Single-writer process: one connection avoids SQLITE_BUSY against
	// our own pool and makes the raw BEGIN IMMEDIATE/COMMIT pattern below
	// safe without a second, separately-pooled connection racing it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SqlDB exposes the raw connection for components that need ad hoc
// queries outside the operations defined on Store (e.g. tests).
func (s *Store) SqlDB() *sql.DB { return s.db }

func (s *Store) schemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		if _, err := s.db.Exec(`CREATE TABLE schema_version (version INTEGER NOT NULL)`); err != nil {
			return 0, err
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) setSchemaVersion(v int) error {
	_, err := s.db.Exec(`UPDATE schema_version SET version = ?`, v)
	return err
}

// migrate runs each pending versioned migration in order. New migrations
// are appended as additional `if version < N` blocks; existing blocks are
// never edited once shipped.
func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS trades (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				order_id TEXT UNIQUE,
				strategy TEXT NOT NULL,
				market_id TEXT NOT NULL,
				token_id TEXT NOT NULL,
				side TEXT NOT NULL,
				price REAL NOT NULL,
				size REAL NOT NULL,
				order_type TEXT NOT NULL DEFAULT 'GTC',
				status TEXT NOT NULL DEFAULT 'SUBMITTED',
				reasoning TEXT,
				fees REAL DEFAULT 0,
				fill_price REAL,
				fill_size REAL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				metadata TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS positions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id TEXT NOT NULL,
				token_id TEXT NOT NULL,
				strategy TEXT NOT NULL,
				side TEXT NOT NULL,
				entry_price REAL NOT NULL,
				size REAL NOT NULL,
				current_price REAL,
				unrealized_pnl REAL DEFAULT 0,
				realized_pnl REAL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'OPEN',
				stop_loss_price REAL,
				take_profit_triggered INTEGER DEFAULT 0,
				trailing_stop_price REAL,
				opened_at TEXT NOT NULL,
				closed_at TEXT,
				close_reason TEXT,
				metadata TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS daily_pnl (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				date TEXT NOT NULL UNIQUE,
				starting_balance REAL NOT NULL,
				ending_balance REAL,
				realized_pnl REAL DEFAULT 0,
				unrealized_pnl REAL DEFAULT 0,
				trades_count INTEGER DEFAULT 0,
				wins INTEGER DEFAULT 0,
				losses INTEGER DEFAULT 0,
				fees_paid REAL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS strategy_state (
				strategy TEXT PRIMARY KEY,
				state TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS external_positions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id TEXT NOT NULL,
				market_id TEXT NOT NULL,
				token_id TEXT NOT NULL,
				size REAL NOT NULL,
				avg_cost REAL,
				last_seen_at TEXT NOT NULL,
				UNIQUE(account_id, market_id, token_id)
			)`,
			`CREATE TABLE IF NOT EXISTS bot_metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy)`,
			`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
			`CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id)`,
			`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
			`CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy)`,
			`CREATE INDEX IF NOT EXISTS idx_external_account ON external_positions(account_id)`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(1); err != nil {
			return err
		}
	}

	if version < 2 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS wallet_performance (
				account_id TEXT PRIMARY KEY,
				trade_count INTEGER NOT NULL DEFAULT 0,
				win_count INTEGER NOT NULL DEFAULT 0,
				total_pnl REAL NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			)`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(2); err != nil {
			return err
		}
	}

	return nil
}

// Transaction wraps fn's store operations in a single write transaction
// taken with BEGIN IMMEDIATE, committing on normal return and rolling
// back on any error. Spec §4.1/§5: trade-plus-open-position writes for
// an approved BUY must occur in one transaction. Because the store holds
// exactly one connection, fn's nested calls into other Store methods
// execute on the same connection the transaction was opened on —
// matching the reference implementation's context-manager pattern rather
// than a nested sql.Tx handle.
func (s *Store) Transaction(fn func() error) (err error) {
	if _, err = s.db.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			s.db.Exec("ROLLBACK")
			panic(p)
		}
	}()

	if err := fn(); err != nil {
		if _, rbErr := s.db.Exec("ROLLBACK"); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if _, err := s.db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
