package store

import (
	"path/filepath"
	"testing"

	"github.com/Himasai10/polymarket/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndClosePosition(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	id, err := s.OpenPosition(Position{
		MarketID:   "mkt1",
		TokenID:    "tok1",
		Strategy:   "mirror",
		Side:       types.BUY,
		EntryPrice: 0.55,
		Size:       10,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	open, err := s.GetOpenPositions("mirror")
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	if len(open) != 1 || open[0].ID != id {
		t.Fatalf("expected one open position with id %d, got %+v", id, open)
	}

	if err := s.ClosePosition(id, 1.23, "take_profit"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	open, err = s.GetOpenPositions("mirror")
	if err != nil {
		t.Fatalf("GetOpenPositions after close: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open positions after close, got %+v", open)
	}

	closed, err := s.GetClosedPositions("mirror", 10)
	if err != nil {
		t.Fatalf("GetClosedPositions: %v", err)
	}
	if len(closed) != 1 || closed[0].RealizedPnL != 1.23 || closed[0].CloseReason != "take_profit" {
		t.Fatalf("unexpected closed position: %+v", closed)
	}
}

func TestCountOpenPositions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.OpenPosition(Position{
			MarketID: "mkt", TokenID: "tok", Strategy: "mirror",
			Side: types.BUY, EntryPrice: 0.5, Size: 1,
		}); err != nil {
			t.Fatalf("OpenPosition: %v", err)
		}
	}

	count, err := s.CountOpenPositions()
	if err != nil {
		t.Fatalf("CountOpenPositions: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestRecordDailyPnLIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.RecordDailyPnL("2026-07-31", 1000); err != nil {
		t.Fatalf("RecordDailyPnL: %v", err)
	}
	// A restart mid-day must not reset the starting balance already recorded.
	if err := s.RecordDailyPnL("2026-07-31", 9999); err != nil {
		t.Fatalf("RecordDailyPnL (second call): %v", err)
	}

	var startingBalance float64
	if err := s.db.QueryRow(`SELECT starting_balance FROM daily_pnl WHERE date = ?`, "2026-07-31").Scan(&startingBalance); err != nil {
		t.Fatalf("query starting_balance: %v", err)
	}
	if startingBalance != 1000 {
		t.Errorf("starting_balance = %v, want 1000 (first call wins)", startingBalance)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	wantErr := errSentinel{}
	err := s.Transaction(func() error {
		if _, err := s.OpenPosition(Position{
			MarketID: "mkt", TokenID: "tok", Strategy: "mirror",
			Side: types.BUY, EntryPrice: 0.5, Size: 1,
		}); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Transaction error = %v, want %v", err, wantErr)
	}

	count, err := s.CountOpenPositions()
	if err != nil {
		t.Fatalf("CountOpenPositions: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to discard the insert, got %d open positions", count)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }
