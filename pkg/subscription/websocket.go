package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrDisconnected is delivered to pending waiters when the socket drops.
var ErrDisconnected = errors.New("websocket disconnected")

// WebSocketClient manages a WebSocket connection to a Solana node and
// delivers signatureSubscribe notifications to waiters.
type WebSocketClient struct {
	url            string
	conn           *websocket.Conn
	mu             sync.RWMutex
	writeMu        sync.Mutex
	requests       map[uint64]*signatureWaiter // request id -> waiter
	subscriptions  map[uint64]*signatureWaiter // node subscription id -> waiter
	nextID         uint64
	reconnectDelay time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	connected      bool
	logger         *zap.Logger
}

type signatureWaiter struct {
	requestID uint64
	signature string
	subID     uint64
	done      chan signatureResult
}

type signatureResult struct {
	payload interface{}
	err     error
}

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// inbound covers both responses and notifications.
type inbound struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Err interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params,omitempty"`
}

// NewWebSocketClient dials wsURL and starts the reader and reconnect loops.
func NewWebSocketClient(ctx context.Context, wsURL string, logger *zap.Logger) (*WebSocketClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCtx, cancel := context.WithCancel(ctx)

	client := &WebSocketClient{
		url:            wsURL,
		requests:       make(map[uint64]*signatureWaiter),
		subscriptions:  make(map[uint64]*signatureWaiter),
		reconnectDelay: 5 * time.Second,
		ctx:            clientCtx,
		cancel:         cancel,
		nextID:         1,
		logger:         logger.Named("ws"),
	}

	if err := client.connect(); err != nil {
		cancel()
		return nil, err
	}

	go client.readMessages()
	go client.handleReconnection()

	return client, nil
}

func (c *WebSocketClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("WebSocket connected", zap.String("url", c.url))
	return nil
}

// WaitSignature subscribes to signature and blocks until the node reports it
// at confirmed commitment. It returns the on-chain error payload, nil on
// success. Subscriptions are dropped when ctx ends.
func (c *WebSocketClient) WaitSignature(ctx context.Context, signature solana.Signature) (interface{}, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	w := &signatureWaiter{
		requestID: c.nextID,
		signature: signature.String(),
		done:      make(chan signatureResult, 1),
	}
	c.nextID++
	c.requests[w.requestID] = w
	c.mu.Unlock()

	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      w.requestID,
		Method:  "signatureSubscribe",
		Params: []interface{}{
			w.signature,
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := c.sendRequest(req); err != nil {
		c.forget(w)
		return nil, err
	}

	select {
	case res := <-w.done:
		return res.payload, res.err
	case <-ctx.Done():
		c.unsubscribe(w)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.forget(w)
		return nil, ErrDisconnected
	}
}

func (c *WebSocketClient) forget(w *signatureWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.requests, w.requestID)
	if w.subID != 0 {
		delete(c.subscriptions, w.subID)
	}
}

func (c *WebSocketClient) unsubscribe(w *signatureWaiter) {
	c.mu.Lock()
	subID := w.subID
	c.mu.Unlock()
	c.forget(w)

	if subID == 0 {
		return
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "signatureUnsubscribe",
		Params:  []interface{}{subID},
	}
	if err := c.sendRequest(req); err != nil {
		c.logger.Debug("Failed to unsubscribe", zap.Uint64("subscription", subID), zap.Error(err))
	}
}

func (c *WebSocketClient) sendRequest(req RPCRequest) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrDisconnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketClient) readMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			c.dropConnection(conn)
			continue
		}

		c.handleMessage(message)
	}
}

// dropConnection fails every pending waiter; callers fall back to polling.
func (c *WebSocketClient) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	pending := make([]*signatureWaiter, 0, len(c.requests))
	for _, w := range c.requests {
		pending = append(pending, w)
	}
	c.requests = make(map[uint64]*signatureWaiter)
	c.subscriptions = make(map[uint64]*signatureWaiter)
	c.mu.Unlock()

	_ = conn.Close()
	for _, w := range pending {
		w.done <- signatureResult{err: ErrDisconnected}
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Failed to parse WebSocket message", zap.Error(err))
		return
	}

	if msg.Method == "signatureNotification" && msg.Params != nil {
		c.handleSignatureNotification(msg)
		return
	}
	if msg.ID != nil {
		c.handleResponse(*msg.ID, msg)
	}
}

func (c *WebSocketClient) handleResponse(id uint64, msg inbound) {
	c.mu.Lock()
	w, exists := c.requests[id]
	if !exists {
		c.mu.Unlock()
		return
	}

	if msg.Error != nil {
		delete(c.requests, id)
		c.mu.Unlock()
		w.done <- signatureResult{err: fmt.Errorf("signatureSubscribe: %s", msg.Error.Message)}
		return
	}

	var subID uint64
	if err := json.Unmarshal(msg.Result, &subID); err != nil {
		c.mu.Unlock()
		return
	}
	w.subID = subID
	c.subscriptions[subID] = w
	c.mu.Unlock()
}

func (c *WebSocketClient) handleSignatureNotification(msg inbound) {
	c.mu.Lock()
	w, exists := c.subscriptions[msg.Params.Subscription]
	if exists {
		// The node closes signature subscriptions after the first notification.
		delete(c.subscriptions, msg.Params.Subscription)
		delete(c.requests, w.requestID)
	}
	c.mu.Unlock()

	if !exists {
		return
	}
	c.logger.Debug("Signature confirmed",
		zap.String("signature", w.signature),
		zap.Uint64("slot", msg.Params.Result.Context.Slot))
	w.done <- signatureResult{payload: msg.Params.Result.Value.Err}
}

func (c *WebSocketClient) handleReconnection() {
	ticker := time.NewTicker(c.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.IsConnected() {
				continue
			}
			c.logger.Info("Attempting to reconnect WebSocket...")
			if err := c.connect(); err != nil {
				c.logger.Warn("Reconnection failed", zap.Error(err))
			}
		}
	}
}

// Close closes the WebSocket connection.
func (c *WebSocketClient) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected returns whether the client is connected
func (c *WebSocketClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
