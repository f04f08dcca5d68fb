package pion

import (
	"context"
	"fmt"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// signalClient is the agent side of the signaling relay: one WebSocket,
// registered under the local peer id, carrying offers, answers and ICE
// candidates both ways.
type signalClient struct {
	self   domain.PeerID
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	onMessage func(signal.RelayMessage)
	closeOnce sync.Once
	done      chan struct{}
}

func dialSignal(ctx context.Context, relayURL string, self domain.PeerID, logger *zap.SugaredLogger) (*signalClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("%s?peer_id=%s", relayURL, self), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}
	return &signalClient{
		self:   self,
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (c *signalClient) run(handler func(signal.RelayMessage)) {
	c.onMessage = handler
	go c.readLoop()
}

func (c *signalClient) readLoop() {
	for {
		var msg signal.RelayMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warnw("signaling connection lost", "error", err)
			}
			return
		}
		if msg.Type == "error" {
			c.logger.Warnw("relay rejected a message", "peer_id", c.self)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *signalClient) send(msg signal.RelayMessage) error {
	msg.From = c.self
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *signalClient) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
