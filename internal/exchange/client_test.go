package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newPaperClient() *Client {
	return &Client{
		paper:  true,
		rl:     NewRateLimiter(55, 60*time.Second, 60*time.Second),
		logger: testLogger(),
	}
}

func TestSubmitOrderPaperModeSynthesizesSuccess(t *testing.T) {
	t.Parallel()
	c := newPaperClient()

	result := c.SubmitOrder(context.Background(), "tok1", types.BUY, 0.50, 10, types.Resting, 0)
	if !result.OK {
		t.Fatalf("expected OK=true, got error %q", result.Error)
	}
	if result.OrderID == "" {
		t.Error("expected non-empty order id")
	}
}

func TestCancelOrderPaperMode(t *testing.T) {
	t.Parallel()
	c := newPaperClient()

	ok, err := c.CancelOrder(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !ok {
		t.Error("expected true in paper mode")
	}
}

func TestCancelAllOrdersPaperMode(t *testing.T) {
	t.Parallel()
	c := newPaperClient()

	ok, err := c.CancelAllOrders(context.Background())
	if err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if !ok {
		t.Error("expected true in paper mode")
	}
}

func TestListOpenOrdersPaperModeReturnsEmpty(t *testing.T) {
	t.Parallel()
	c := newPaperClient()

	orders, err := c.ListOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if orders != nil {
		t.Errorf("expected nil in paper mode, got %v", orders)
	}
}

func TestNewClientFromConfigPaperMode(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		TradingMode: "paper",
		API:         config.APIConfig{CLOBBaseURL: "http://localhost"},
	}
	auth := &Auth{}
	rl := NewRateLimiter(55, 60*time.Second, 60*time.Second)
	c := NewClient(cfg, auth, rl, testLogger())

	if !c.paper {
		t.Error("client.paper should be true for trading_mode=paper")
	}
}

func TestBuildOrderPayloadSignsOrder(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey:    "0x1111111111111111111111111111111111111111111111111111111111111111",
			ChainID:       137,
			SignatureType: 0,
		},
		API: config.APIConfig{
			CLOBBaseURL: "http://localhost",
			ApiKey:      "test-key",
			Secret:      "test-secret",
			Passphrase:  "test-pass",
		},
	}

	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	rl := NewRateLimiter(55, 60*time.Second, 60*time.Second)
	c := NewClient(cfg, auth, rl, testLogger())
	payload, err := c.buildOrderPayload(types.UserOrder{
		TokenID:   "12345678901234567890",
		Price:     0.55,
		Size:      10,
		Side:      types.BUY,
		OrderType: types.OrderTypeGTC,
		TickSize:  types.Tick001,
	})
	if err != nil {
		t.Fatalf("buildOrderPayload: %v", err)
	}

	if payload.Order.Signature == "" || payload.Order.Signature[:2] != "0x" {
		t.Fatalf("signature = %q, want non-empty 0x-prefixed signature", payload.Order.Signature)
	}
	if payload.Order.Salt == "" || payload.Order.Salt == "0" {
		t.Fatalf("salt = %q, want non-zero", payload.Order.Salt)
	}
	if payload.Order.Nonce != "0" {
		t.Fatalf("nonce = %q, want 0", payload.Order.Nonce)
	}
	if payload.Owner != "test-key" {
		t.Fatalf("owner = %q, want test-key", payload.Owner)
	}
}

func TestPriceToAmountsIsBuySellSymmetric(t *testing.T) {
	t.Parallel()

	buyMkr, buyTkr := PriceToAmounts(0.60, 50.0, types.BUY, types.Tick001)
	sellMkr, sellTkr := PriceToAmounts(0.60, 50.0, types.SELL, types.Tick001)

	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}
