package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"roomnet/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Relay routes WebRTC negotiation messages between connected agents. It never
// inspects SDP or candidates; it only validates addressing and forwards. Each
// agent holds one connection, keyed by peer id, replaced on reconnect.
type Relay struct {
	connections map[domain.PeerID]*relayConn
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

// relayConn serializes writes to one peer's connection. Frames arrive from
// every source peer's handler goroutine plus the ping ticker, and gorilla
// permits only one concurrent writer per connection.
type relayConn struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (c *relayConn) writeJSON(timeout time.Duration, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func (c *relayConn) ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// RelayMessage is the relay wire frame. Type is one of offer, answer or
// ice_candidate; Intent distinguishes a data-session dial from a media call
// and rides along untouched, like the payload.
type RelayMessage struct {
	Type    string          `json:"type"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to"`
	Intent  string          `json:"intent,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewRelay(logger *zap.SugaredLogger) *Relay {
	return &Relay{
		connections:  make(map[domain.PeerID]*relayConn),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *Relay) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

func (s *Relay) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))
	if peerID == "" {
		s.logger.Warn("missing peer_id in query parameters")
		return
	}

	rc := &relayConn{conn: conn}

	// Check if peer is reconnecting (already exists)
	s.mu.Lock()
	existingConn, isReconnect := s.connections[peerID]
	if isReconnect && existingConn != nil {
		existingConn.conn.Close()
		s.logger.Infow("closing old connection for reconnecting peer", "peer_id", peerID)
	}
	s.connections[peerID] = rc
	s.mu.Unlock()

	s.logger.Infow("peer connected to relay", "peer_id", peerID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan RelayMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg RelayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.route(peerID, msg); err != nil {
				s.logger.Infow("error routing message from peer", "peer_id", peerID, "error", err)
				s.sendError(rc, err.Error())
			}

		case <-pingTicker.C:
			if err := rc.ping(s.writeTimeout); err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	// Only drop the entry if it is still ours; a reconnect may have
	// replaced it already.
	if current, ok := s.connections[peerID]; ok && current == rc {
		delete(s.connections, peerID)
	}
	s.mu.Unlock()

	s.logger.Infow("peer disconnected from relay", "peer_id", peerID)
}

func (s *Relay) route(peerID domain.PeerID, msg RelayMessage) error {
	switch msg.Type {
	case "offer", "answer", "ice_candidate":
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.From != "" && msg.From != peerID {
		return fmt.Errorf("from mismatch: expected %s, got %s", peerID, msg.From)
	}
	if msg.To == "" {
		return fmt.Errorf("target peer is required")
	}

	msg.From = peerID
	if err := s.sendToPeer(msg.To, msg); err != nil {
		return err
	}

	s.logger.Debugw("routed signal",
		"type", msg.Type,
		"from_peer", peerID,
		"to_peer", msg.To,
		"intent", msg.Intent,
	)
	return nil
}

func (s *Relay) sendToPeer(peerID domain.PeerID, data interface{}) error {
	s.mu.RLock()
	rc, exists := s.connections[peerID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("peer %s not connected", peerID)
	}

	return rc.writeJSON(s.writeTimeout, data)
}

func (s *Relay) sendError(rc *relayConn, message string) {
	errorMsg := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	rc.writeJSON(s.writeTimeout, errorMsg)
}

func (s *Relay) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.connections)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Relay) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.connections))
	for peerID := range s.connections {
		peers = append(peers, peerID)
	}
	return peers
}

func (s *Relay) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.connections[peerID]
	return exists
}
