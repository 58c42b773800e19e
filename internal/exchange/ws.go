// ws.go implements the Streaming Client: a single persistent WebSocket
// subscription carrying price updates for a dynamically managed set of
// token ids, with auto-reconnect, resubscribe, and staleness detection.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Himasai10/polymarket/pkg/types"
)

const (
	reconnectDelayStart = time.Second
	reconnectDelayCap   = 60 * time.Second
	staleThreshold      = 30 * time.Second
	heartbeatCheck      = 10 * time.Second
	forceReconnect      = 60 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

// PriceCallback is invoked on every book/price_change message.
type PriceCallback func(tokenID string, price float64, ts time.Time)

// inboundMessage is the wire shape of a market-channel event: only the
// fields this client cares about are declared, the rest is dropped.
type inboundMessage struct {
	Type      string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Price     string  `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// StreamClient is the Streaming Client (C4): a long-lived market-data
// subscription with auto-reconnect, resubscribe, and staleness tracking.
type StreamClient struct {
	url       string
	authToken string
	logger    *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.Mutex
	subscribed   map[string]bool

	pricesMu sync.Mutex
	prices   map[string]float64

	lastMessageMu sync.Mutex
	lastMessage   time.Time // zero value means "no connection" / stale

	callbacksMu sync.Mutex
	callbacks   []PriceCallback

	reconnectDelay time.Duration

	running   chan struct{} // closed by stop()
	runningMu sync.Mutex
	stopped   bool
}

// NewStreamClient creates a streaming client targeting wsURL. authToken,
// if non-empty, is sent as a bearer header on the subscription handshake.
func NewStreamClient(wsURL, authToken string, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		url:            wsURL,
		authToken:      authToken,
		logger:         logger.With("component", "stream_client"),
		subscribed:     make(map[string]bool),
		prices:         make(map[string]float64),
		reconnectDelay: reconnectDelayStart,
	}
}

// RegisterCallback adds a callback invoked on every price update.
func (s *StreamClient) RegisterCallback(cb PriceCallback) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Subscribe adds token ids to the subscribed set and, if connected, sends
// the delta immediately rather than waiting for the next reconnect.
func (s *StreamClient) Subscribe(tokenIDs []string) {
	s.subscribedMu.Lock()
	for _, id := range tokenIDs {
		s.subscribed[id] = true
	}
	s.subscribedMu.Unlock()

	if err := s.sendSubscribeDelta("subscribe", tokenIDs); err != nil {
		s.logger.Debug("subscribe delta not sent (not connected)", "error", err)
	}
}

// Unsubscribe removes token ids from the subscribed set and drops their
// latest-price entries.
func (s *StreamClient) Unsubscribe(tokenIDs []string) {
	s.subscribedMu.Lock()
	for _, id := range tokenIDs {
		delete(s.subscribed, id)
	}
	s.subscribedMu.Unlock()

	s.pricesMu.Lock()
	for _, id := range tokenIDs {
		delete(s.prices, id)
	}
	s.pricesMu.Unlock()

	if err := s.sendSubscribeDelta("unsubscribe", tokenIDs); err != nil {
		s.logger.Debug("unsubscribe delta not sent (not connected)", "error", err)
	}
}

// LatestPrice returns the last known price for a token, or nil if the
// stream is stale (no message received within STALE).
func (s *StreamClient) LatestPrice(tokenID string) *float64 {
	s.lastMessageMu.Lock()
	last := s.lastMessage
	s.lastMessageMu.Unlock()

	if last.IsZero() || time.Since(last) > staleThreshold {
		return nil
	}

	s.pricesMu.Lock()
	defer s.pricesMu.Unlock()
	p, ok := s.prices[tokenID]
	if !ok {
		return nil
	}
	return &p
}

// Start launches the connect/read/reconnect loop in its own goroutine and
// returns; the loop runs until ctx is cancelled or Stop is called.
func (s *StreamClient) Start(ctx context.Context) {
	s.runningMu.Lock()
	s.stopped = false
	s.running = make(chan struct{})
	s.runningMu.Unlock()

	go s.loop(ctx)
}

// Stop halts the client and closes any active connection.
func (s *StreamClient) Stop() {
	s.runningMu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.running)
	}
	s.runningMu.Unlock()

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
}

func (s *StreamClient) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.running:
			return
		default:
		}

		err := s.connectAndRead(ctx)

		// Step 5: clear the connection reference and zero last-message so
		// LatestPrice reports stale immediately, before sleeping.
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		s.lastMessageMu.Lock()
		s.lastMessage = time.Time{}
		s.lastMessageMu.Unlock()

		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "delay", s.reconnectDelay)

		select {
		case <-ctx.Done():
			return
		case <-s.running:
			return
		case <-time.After(s.reconnectDelay):
		}

		s.reconnectDelay *= 2
		if s.reconnectDelay > reconnectDelayCap {
			s.reconnectDelay = reconnectDelayCap
		}
	}
}

func (s *StreamClient) connectAndRead(ctx context.Context) error {
	header := map[string][]string{}
	if s.authToken != "" {
		header["Authorization"] = []string{"Bearer " + s.authToken}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			conn.Close()
		}
		s.connMu.Unlock()
	}()

	// Step 1: reset delay to 1s on successful connect.
	s.reconnectDelay = reconnectDelayStart
	s.logger.Info("stream connected")

	s.lastMessageMu.Lock()
	s.lastMessage = time.Now()
	s.lastMessageMu.Unlock()

	// Step 2: resubscribe to the full subscribed-set, not only new ids.
	if err := s.resubscribeAll(conn); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	// Step 3: heartbeat monitor alongside the read loop.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.heartbeat(hbCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(msg)
	}
}

func (s *StreamClient) resubscribeAll(conn *websocket.Conn) error {
	s.subscribedMu.Lock()
	ids := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		ids = append(ids, id)
	}
	s.subscribedMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return s.writeJSON(conn, types.WSSubscribeMsg{Type: "market", AssetIDs: ids})
}

func (s *StreamClient) sendSubscribeDelta(operation string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.writeJSON(conn, types.WSUpdateMsg{Operation: operation, AssetIDs: ids})
}

func (s *StreamClient) writeJSON(conn *websocket.Conn, v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

// handleMessage stamps last-message, parses {type, asset_id, price,
// timestamp?}, and for book/price_change updates latest price and fires
// every callback. Other types are ignored; parse errors are logged at
// debug and dropped.
func (s *StreamClient) handleMessage(data []byte) {
	s.lastMessageMu.Lock()
	s.lastMessage = time.Now()
	s.lastMessageMu.Unlock()

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("ignoring unparseable stream message", "error", err)
		return
	}

	switch msg.Type {
	case "book", "price_change":
	default:
		return
	}
	if msg.AssetID == "" || msg.Price == "" {
		return
	}

	var price float64
	if _, err := fmt.Sscanf(msg.Price, "%f", &price); err != nil {
		s.logger.Debug("unparseable price in stream message", "raw", msg.Price)
		return
	}

	ts := time.Now()
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}

	s.pricesMu.Lock()
	s.prices[msg.AssetID] = price
	s.pricesMu.Unlock()

	s.callbacksMu.Lock()
	cbs := make([]PriceCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.callbacksMu.Unlock()

	for _, cb := range cbs {
		cb(msg.AssetID, price, ts)
	}
}

// heartbeat wakes every HEARTBEAT_CHECK; logs a warning past STALE and
// forces a reconnect (by closing the connection) past FORCE_RECONNECT.
func (s *StreamClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.lastMessageMu.Lock()
			silence := time.Since(s.lastMessage)
			s.lastMessageMu.Unlock()

			if silence > forceReconnect {
				s.logger.Warn("stream silent past force-reconnect threshold, closing", "silence", silence)
				s.connMu.Lock()
				if s.conn == conn {
					conn.Close()
				}
				s.connMu.Unlock()
				return
			}
			if silence > staleThreshold {
				s.logger.Warn("stream silent past stale threshold", "silence", silence)
			}
		}
	}
}
