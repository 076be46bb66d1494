package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tokenfolio/internal/domain"
)

// StreamConfig configures the live event stream.
type StreamConfig struct {
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
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Stream subscribes to the indexer's live transfer-event feed over
// WebSocket. Events for the subscribed token arrive on Events();
// the connection reconnects with backoff and resubscribes on its own.
type Stream struct {
	endpoint string
	token    string
	config   StreamConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan *domain.LedgerEvent
	done   chan struct{}
	wg     sync.WaitGroup

	reconnecting atomic.Bool
}

// streamRequest is the subscribe message for the transfer feed.
type streamRequest struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
	Token   string `json:"token,omitempty"`
}

// streamMessage is one inbound feed frame.
type streamMessage struct {
	Type  string     `json:"type"`
	Event *eventJSON `json:"event,omitempty"`
}

// NewStream connects, subscribes to transfer events of the given
// token, and starts the read and ping loops.
func NewStream(ctx context.Context, endpoint, token string, config *StreamConfig, logger *log.Logger) (*Stream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Stream{
		endpoint: endpoint,
		token:    domain.NormalizeAddress(token),
		config:   cfg,
		logger:   logger,
		events:   make(chan *domain.LedgerEvent, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Events returns the inbound event channel. It is closed by Close.
func (s *Stream) Events() <-chan *domain.LedgerEvent {
	return s.events
}

// connect dials the endpoint and sends the subscribe message.
func (s *Stream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	req := streamRequest{Op: "subscribe", Channel: "transfers", Token: s.token}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	s.conn = conn
	return nil
}

// Close closes the connection and the event channel.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

// readLoop reads feed frames and delivers events, reconnecting with
// exponential backoff on connection errors.
func (s *Stream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			// A previous redial failed; keep retrying until closed.
			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)

				reconnectDelay = reconnectDelay * 2
				if reconnectDelay > s.config.MaxReconnectDelay {
					reconnectDelay = s.config.MaxReconnectDelay
				}
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// handleMessage decodes one frame and forwards transfer events.
func (s *Stream) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Printf("WARN: decode feed frame: %v", err)
		return
	}

	if msg.Type != "transfer" || msg.Event == nil {
		return
	}

	ev := &domain.LedgerEvent{
		ID:        msg.Event.ID,
		Timestamp: msg.Event.Timestamp,
		From:      domain.NormalizeAddress(msg.Event.From),
		To:        domain.NormalizeAddress(msg.Event.To),
		Amount:    msg.Event.Amount,
		Kind:      domain.EventKind(msg.Event.Kind),
		Token:     domain.NormalizeAddress(msg.Event.Token),
	}

	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// reconnect redials and resubscribes.
func (s *Stream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Printf("WARN: reconnect failed: %v", err)
		return
	}

	s.logger.Printf("reconnected to %s", s.endpoint)
}

// pingLoop keeps the connection alive.
func (s *Stream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.logger.Printf("WARN: ping failed: %v", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}
