// Package exchange implements the REST and streaming clients that make up
// the Exchange Adapter (C3) and Streaming Client (C4) boundary the rest of
// the engine consumes.
//
// Client wraps a resty HTTP client against the CLOB, Gamma, and Data
// sub-APIs with rate limiting, retry on 5xx, and L1/L2 signing. Every
// mutating call checks TradingMode first: in "paper" mode the client
// synthesizes a response without making any HTTP call, exactly like the
// reference implementation's paper-trading branch.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Himasai10/polymarket/internal/boterr"
	"github.com/Himasai10/polymarket/internal/config"
	"github.com/Himasai10/polymarket/pkg/types"
)

// Client is the CLOB/Gamma/Data REST client backing the Exchange Adapter.
type Client struct {
	http   *resty.Client
	gamma  *resty.Client
	data   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	paper  bool
	logger *slog.Logger
}

// NewClient builds a Client from config, wiring a shared RateLimiter across
// all three sub-APIs (the exchange presents one combined budget).
func NewClient(cfg config.Config, auth *Auth, rl *RateLimiter, logger *slog.Logger) *Client {
	newHTTP := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json")
	}

	return &Client{
		http:   newHTTP(cfg.API.CLOBBaseURL),
		gamma:  newHTTP(cfg.API.GammaBaseURL),
		data:   newHTTP(cfg.API.DataBaseURL),
		auth:   auth,
		rl:     rl,
		paper:  cfg.IsPaper(),
		logger: logger,
	}
}

// gammaMarket mirrors the subset of the Gamma API's market JSON this
// adapter consumes; the rest is ignored by encoding/json.
type gammaMarket struct {
	ID              string   `json:"id"`
	ConditionID     string   `json:"conditionId"`
	Slug            string   `json:"slug"`
	Question        string   `json:"question"`
	Category        string   `json:"category"`
	ClobTokenIds    string   `json:"clobTokenIds"` // JSON-encoded [yesID, noID]
	Active          bool     `json:"active"`
	Closed          bool     `json:"closed"`
	AcceptingOrders bool     `json:"acceptingOrders"`
	Liquidity       string   `json:"liquidityNum"`
	Volume24h       string   `json:"volume24hr"`
	EndDateISO      string   `json:"endDateIso"`
	MinimumOrderSz  string   `json:"orderMinSize"`
}

func (m gammaMarket) toMarketInfo() (types.MarketInfo, bool) {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) != 2 {
		return types.MarketInfo{}, false
	}
	if tokenIDs[0] == "" || tokenIDs[1] == "" {
		return types.MarketInfo{}, false
	}

	endDate, _ := time.Parse(time.RFC3339, m.EndDateISO)
	liquidity, _ := strconv.ParseFloat(m.Liquidity, 64)
	volume, _ := strconv.ParseFloat(m.Volume24h, 64)
	minSize, _ := strconv.ParseFloat(m.MinimumOrderSz, 64)

	return types.MarketInfo{
		ID:              m.ID,
		ConditionID:     m.ConditionID,
		Slug:            m.Slug,
		Question:        m.Question,
		Category:        m.Category,
		YesTokenID:      tokenIDs[0],
		NoTokenID:       tokenIDs[1],
		TickSize:        types.Tick001,
		MinOrderSize:    minSize,
		Active:          m.Active,
		Closed:          m.Closed,
		AcceptingOrders: m.AcceptingOrders,
		EndDate:         endDate,
		Liquidity:       liquidity,
		Volume24h:       volume,
	}, true
}

// ListMarketsFilter parameterizes ListMarkets. Zero values mean "no filter".
type ListMarketsFilter struct {
	Limit        int
	Active       bool
	Sort         string
	Category     string
	MinVolume    float64
	MinLiquidity float64
}

// ListMarkets fetches markets from the Gamma API, applying server-side
// filters where the API supports them and the rest locally. Markets
// missing either outcome token id are dropped.
func (c *Client) ListMarkets(ctx context.Context, f ListMarketsFilter) ([]types.MarketInfo, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	req := c.gamma.R().SetContext(ctx)
	if f.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(f.Limit))
	}
	if f.Active {
		req.SetQueryParam("active", "true")
	}
	if f.Sort != "" {
		req.SetQueryParam("order", f.Sort)
	}
	if f.Category != "" {
		req.SetQueryParam("category", f.Category)
	}

	var raw []gammaMarket
	resp, err := req.SetResult(&raw).Get("/markets")
	if err != nil {
		c.rl.RecordRateLimit()
		return nil, boterr.New(boterr.Connectivity, "list_markets", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("list_markets", resp)
	}
	c.rl.RecordSuccess()

	out := make([]types.MarketInfo, 0, len(raw))
	for _, m := range raw {
		mi, ok := m.toMarketInfo()
		if !ok {
			continue
		}
		if f.MinVolume > 0 && mi.Volume24h < f.MinVolume {
			continue
		}
		if f.MinLiquidity > 0 && mi.Liquidity < f.MinLiquidity {
			continue
		}
		out = append(out, mi)
	}
	return out, nil
}

// GetMarket fetches a single market by id, returning (nil, nil) if not found.
func (c *Client) GetMarket(ctx context.Context, marketID string) (*types.MarketInfo, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	var raw gammaMarket
	resp, err := c.gamma.R().SetContext(ctx).SetResult(&raw).Get("/markets/" + marketID)
	if err != nil {
		c.rl.RecordRateLimit()
		return nil, boterr.New(boterr.Connectivity, "get_market", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		c.rl.RecordSuccess()
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("get_market", resp)
	}
	c.rl.RecordSuccess()

	mi, ok := raw.toMarketInfo()
	if !ok {
		return nil, nil
	}
	return &mi, nil
}

// BestBidAsk returns the top-of-book bid and ask for a token, nil if absent.
func (c *Client) BestBidAsk(ctx context.Context, tokenID string) (bid, ask *float64, err error) {
	book, err := c.getOrderBook(ctx, tokenID)
	if err != nil {
		return nil, nil, err
	}
	if len(book.Bids) > 0 {
		if p, perr := strconv.ParseFloat(book.Bids[0].Price, 64); perr == nil {
			bid = &p
		}
	}
	if len(book.Asks) > 0 {
		if p, perr := strconv.ParseFloat(book.Asks[0].Price, 64); perr == nil {
			ask = &p
		}
	}
	return bid, ask, nil
}

// LastPrice returns the most recent trade price for a token, nil if unknown.
func (c *Client) LastPrice(ctx context.Context, tokenID string) (*float64, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/last-trade-price")
	if err != nil {
		c.rl.RecordRateLimit()
		return nil, boterr.New(boterr.Connectivity, "last_price", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("last_price", resp)
	}
	c.rl.RecordSuccess()

	p, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return nil, nil
	}
	return &p, nil
}

func (c *Client) getOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		c.rl.RecordRateLimit()
		return nil, boterr.New(boterr.Connectivity, "get_book", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("get_book", resp)
	}
	c.rl.RecordSuccess()
	return &result, nil
}

// buildOrderPayload signs a high-level order into the on-chain SignedOrder
// the CLOB API expects: price/size at the market's tick precision, maker
// set to the funder wallet, taker the zero address (open order).
func (c *Client) buildOrderPayload(order types.UserOrder) (types.OrderPayload, error) {
	tickSize := order.TickSize
	if tickSize == "" {
		tickSize = types.Tick001
	}
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, tickSize)

	salt := strconv.FormatInt(time.Now().UnixNano(), 10)
	unsigned := types.SignedOrder{
		Salt:          salt,
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          order.Side,
		Expiration:    strconv.FormatInt(order.Expiration, 10),
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(order.FeeRateBps),
		SignatureType: c.auth.sigType,
	}

	sig, err := c.auth.SignOrder(unsigned)
	if err != nil {
		return types.OrderPayload{}, fmt.Errorf("sign order: %w", err)
	}
	unsigned.Signature = sig

	return types.OrderPayload{
		Order:     unsigned,
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.OrderType,
	}, nil
}

// disciplineToOrderType maps a types.Discipline to the CLOB's order-type strings.
func disciplineToOrderType(d types.Discipline) types.OrderType {
	switch d {
	case types.ImmediateOrKill:
		return types.OrderType("FOK")
	case types.ImmediatePartialOK:
		return types.OrderType("FAK")
	default:
		return types.OrderTypeGTC
	}
}

// SubmitOrder places a single order. In paper mode it synthesizes a
// success without any HTTP call.
func (c *Client) SubmitOrder(ctx context.Context, tokenID string, side types.Side, price, sizeShares float64, discipline types.Discipline, expiration int64) types.OrderResult {
	if c.paper {
		id := fmt.Sprintf("paper-%d", time.Now().UnixNano())
		c.logger.Info("paper order", "token_id", tokenID, "side", side, "price", price, "size", sizeShares, "order_id", id)
		return types.OrderResult{OK: true, OrderID: id}
	}

	if err := c.rl.Acquire(ctx); err != nil {
		return types.OrderResult{OK: false, Error: err.Error()}
	}

	order := types.UserOrder{
		TokenID:    tokenID,
		Price:      price,
		Size:       sizeShares,
		Side:       side,
		OrderType:  disciplineToOrderType(discipline),
		TickSize:   types.Tick001,
		Expiration: expiration,
	}
	payload, err := c.buildOrderPayload(order)
	if err != nil {
		return types.OrderResult{OK: false, Error: err.Error()}
	}

	body, err := json.Marshal([]types.OrderPayload{payload})
	if err != nil {
		return types.OrderResult{OK: false, Error: err.Error()}
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return types.OrderResult{OK: false, Error: err.Error()}
	}

	var results []types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody([]types.OrderPayload{payload}).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		c.rl.RecordRateLimit()
		return types.OrderResult{OK: false, Error: err.Error()}
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		c.rl.RecordRateLimit()
		return types.OrderResult{OK: false, Error: "rate limited", Raw: resp.String()}
	}
	if resp.StatusCode() != http.StatusOK || len(results) == 0 {
		return types.OrderResult{OK: false, Error: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()), Raw: resp.String()}
	}
	c.rl.RecordSuccess()

	r := results[0]
	if !r.Success {
		return types.OrderResult{OK: false, OrderID: r.OrderID, Error: r.ErrorMsg, Raw: r}
	}
	return types.OrderResult{OK: true, OrderID: r.OrderID, Raw: r}
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if c.paper {
		return true, nil
	}
	if err := c.rl.Acquire(ctx); err != nil {
		return false, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: []string{orderID}}
	body, _ := json.Marshal(payload)
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return false, err
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		c.rl.RecordRateLimit()
		return false, boterr.New(boterr.Connectivity, "cancel_order", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, c.statusError("cancel_order", resp)
	}
	c.rl.RecordSuccess()
	return len(result.Canceled) > 0, nil
}

// CancelAllOrders cancels every open order across all markets.
func (c *Client) CancelAllOrders(ctx context.Context) (bool, error) {
	if c.paper {
		return true, nil
	}
	if err := c.rl.Acquire(ctx); err != nil {
		return false, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return false, err
	}

	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/cancel-all")
	if err != nil {
		c.rl.RecordRateLimit()
		return false, boterr.New(boterr.Connectivity, "cancel_all_orders", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, c.statusError("cancel_all_orders", resp)
	}
	c.rl.RecordSuccess()
	c.logger.Warn("all orders cancelled")
	return true, nil
}

// ListOpenOrders returns the caller's currently resting orders. Used to
// confirm fills for IMMEDIATE_OR_KILL discipline.
func (c *Client) ListOpenOrders(ctx context.Context) ([]types.OrderView, error) {
	if c.paper {
		return nil, nil
	}
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/orders", "")
	if err != nil {
		return nil, err
	}

	var raw []types.OpenOrder
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&raw).Get("/orders")
	if err != nil {
		c.rl.RecordRateLimit()
		return nil, boterr.New(boterr.Connectivity, "list_open_orders", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("list_open_orders", resp)
	}
	c.rl.RecordSuccess()

	out := make([]types.OrderView, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		out = append(out, types.OrderView{
			OrderID:  o.ID,
			MarketID: o.Market,
			TokenID:  o.AssetID,
			Price:    price,
			Side:     types.Side(o.Side),
		})
	}
	return out, nil
}

// ListExternalPositions fetches another account's current holdings, used
// by the mirror strategy to diff-track a tracked wallet.
func (c *Client) ListExternalPositions(ctx context.Context, accountID string) ([]types.ExternalPosition, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	var raw []struct {
		ConditionID string `json:"conditionId"`
		Asset       string `json:"asset"`
		Size        string `json:"size"`
		AvgPrice    string `json:"avgPrice"`
	}
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("user", accountID).
		SetResult(&raw).
		Get("/positions")
	if err != nil {
		c.rl.RecordRateLimit()
		return nil, boterr.New(boterr.Connectivity, "list_external_positions", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("list_external_positions", resp)
	}
	c.rl.RecordSuccess()

	out := make([]types.ExternalPosition, 0, len(raw))
	for _, p := range raw {
		size, _ := strconv.ParseFloat(p.Size, 64)
		avgCost, _ := strconv.ParseFloat(p.AvgPrice, 64)
		if size == 0 {
			continue
		}
		out = append(out, types.ExternalPosition{
			MarketID: p.ConditionID,
			TokenID:  p.Asset,
			Size:     size,
			AvgCost:  avgCost,
		})
	}
	return out, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.statusError("derive_api_key", resp)
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

func (c *Client) statusError(op string, resp *resty.Response) error {
	kind := boterr.Connectivity
	if resp.StatusCode() == http.StatusTooManyRequests {
		kind = boterr.RateLimited
	}
	return boterr.New(kind, op, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
}
