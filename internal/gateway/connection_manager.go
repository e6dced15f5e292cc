package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager keeps WebSocket connection pools per room and fans feed
// events out to them.
type ConnectionManager struct {
	roomConnections map[uuid.UUID]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// Pool lifecycle hooks: the fanout opens a room's feed subscription on
	// the first connection and closes it when the pool empties.
	onFirstConn func(roomID uuid.UUID)
	onLastConn  func(roomID uuid.UUID)

	// onHeartbeat receives inbound heartbeat frames.
	onHeartbeat func(playerID uuid.UUID)
}

// Connection is one client's WebSocket session in a room.
type Connection struct {
	ID       uuid.UUID
	PlayerID uuid.UUID
	RoomID   uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig tunes WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	RoomID  uuid.UUID
	Payload []byte
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetPoolHooks installs the first/last connection callbacks. Must be called
// before the manager accepts connections.
func (cm *ConnectionManager) SetPoolHooks(onFirst, onLast func(roomID uuid.UUID)) {
	cm.onFirstConn = onFirst
	cm.onLastConn = onLast
}

// SetHeartbeatHook installs the inbound heartbeat callback.
func (cm *ConnectionManager) SetHeartbeatHook(fn func(playerID uuid.UUID)) {
	cm.onHeartbeat = fn
}

// Run processes broadcast messages until done closes.
func (cm *ConnectionManager) Run(done <-chan struct{}) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-done:
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade turns an HTTP request into a registered WebSocket connection.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, playerID, roomID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New(),
		PlayerID:    playerID,
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID.String()).
		Str("player_id", playerID.String()).
		Str("room_id", roomID.String()).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	first := cm.roomConnections[conn.RoomID] == nil
	if first {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true
	cm.mu.Unlock()

	if first && cm.onFirstConn != nil {
		cm.onFirstConn(conn.RoomID)
	}
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	last := false
	if connections, exists := cm.roomConnections[conn.RoomID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomID)
				last = true
			}
		}
	}
	cm.mu.Unlock()

	if last && cm.onLastConn != nil {
		cm.onLastConn(conn.RoomID)
	}
}

// BroadcastToRoom queues a payload for every connection in a room. The queue
// is bounded; under sustained overload messages are dropped, and clients
// recover by re-reading the store.
func (cm *ConnectionManager) BroadcastToRoom(roomID uuid.UUID, payload []byte) {
	select {
	case cm.broadcastCh <- broadcastMessage{RoomID: roomID, Payload: payload}:
	default:
		log.Warn().Str("room_id", roomID.String()).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.Payload:
		default:
			// Slow consumer; closing forces a reconnect with fresh hydration.
			log.Warn().
				Str("connection_id", conn.ID.String()).
				Str("player_id", conn.PlayerID.String()).
				Msg("connection send buffer full, closing connection")
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// Stats reports active connection counts per room.
func (cm *ConnectionManager) Stats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	perRoom := make(map[string]int)
	for roomID, connections := range cm.roomConnections {
		total += len(connections)
		perRoom[roomID.String()] = len(connections)
	}
	return map[string]interface{}{
		"total_connections": total,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  perRoom,
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID.String()).
					Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID.String()).
					Msg("unexpected WebSocket close error")
			}
			break
		}
		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes inbound frames. The only inbound message
// clients send over the socket is a heartbeat; everything else goes through
// the REST API so writes always hit the store.
func (c *Connection) handleClientMessage(message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Str("connection_id", c.ID.String()).
			Msg("ignoring malformed client message")
		return
	}
	if msg.Type == "heartbeat" && c.Manager.onHeartbeat != nil {
		c.Manager.onHeartbeat(c.PlayerID)
	}
}
