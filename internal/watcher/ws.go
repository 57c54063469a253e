package watcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/observability"
)

const transportWS = "websocket"

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Retry schedules re-application of messages that failed transiently.
	Retry Backoff
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Retry:             DefaultBackoff(),
	}
}

// subscribeRequest asks the watcher service for reports on networks.
// An empty list subscribes to every network.
type subscribeRequest struct {
	Action   string               `json:"action"`
	Networks []domain.NetworkCode `json:"networks,omitempty"`
}

// WSFeed reads watcher messages from a WebSocket endpoint. It resubscribes
// after every reconnect.
type WSFeed struct {
	endpoint string
	networks []domain.NetworkCode
	config   WSConfig
	handler  Handler
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	connected atomic.Bool
	wg        sync.WaitGroup
}

// NewWSFeed creates a feed. Nothing is dialed until Run.
func NewWSFeed(endpoint string, networks []domain.NetworkCode, handler Handler, config *WSConfig, logger *log.Logger) *WSFeed {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WSFeed{
		endpoint: endpoint,
		networks: networks,
		config:   cfg,
		handler:  handler,
		logger:   logger,
	}
}

// Connected reports whether the feed currently holds a subscribed connection.
func (f *WSFeed) Connected() bool {
	return f.connected.Load()
}

// Run connects, subscribes and applies messages until ctx is cancelled,
// reconnecting with exponential backoff on failure.
func (f *WSFeed) Run(ctx context.Context) error {
	reconnectDelay := f.config.ReconnectDelay

	for {
		read, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Reset delay once a session made progress
		if read {
			reconnectDelay = f.config.ReconnectDelay
		}
		observability.RecordWatcherReconnect(transportWS)
		f.logger.Printf("websocket feed disconnected, reconnecting in %v: %v", reconnectDelay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > f.config.MaxReconnectDelay {
			reconnectDelay = f.config.MaxReconnectDelay
		}
	}
}

// session runs one connection until it fails. It reports whether any
// message was read.
func (f *WSFeed) session(ctx context.Context) (bool, error) {
	if err := f.connect(ctx); err != nil {
		return false, err
	}
	defer f.disconnect()

	if err := f.subscribe(); err != nil {
		return false, err
	}
	f.connected.Store(true)

	sessionCtx, cancel := context.WithCancel(ctx)

	// Unblock ReadMessage on shutdown
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		<-sessionCtx.Done()
		f.closeConn()
	}()

	f.wg.Add(1)
	go f.pingLoop(sessionCtx)

	defer f.wg.Wait()
	defer cancel()

	read := false
	for {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			return read, fmt.Errorf("connection closed")
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return read, fmt.Errorf("read: %w", err)
		}
		read = true

		if err := process(ctx, f.handler, message, transportWS, f.config.Retry, f.logger); err != nil {
			return read, err
		}
	}
}

// connect establishes WebSocket connection.
func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

func (f *WSFeed) subscribe() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}

	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(subscribeRequest{Action: "subscribe", Networks: f.networks}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (f *WSFeed) disconnect() {
	f.connected.Store(false)
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	f.connMu.Unlock()
	f.closeConn()
}

func (f *WSFeed) closeConn() {
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (f *WSFeed) pingLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}
