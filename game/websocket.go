package game

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize   = 256
	pongWait         = time.Minute
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second
	maxInboundBytes  = 64 << 10
	inboundRate      = 20
	inboundBurst     = 40
	wsCommandTimeout = 5 * time.Second
)

const (
	closeSendBufferFull = "send-buffer-full"
	closeReplaced       = "replaced"
	closeLeftRoom       = "left-room"
	closeRoomClosed     = "room-closed"
	closeShutdown       = "shutdown"
)

// WebsocketConnection is the transport a client is served over.
type WebsocketConnection interface {
	Close(reason string)
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
}

type websocketConnection struct {
	socket *websocket.Conn
}

func NewWebsocketConnection(conn *websocket.Conn) *websocketConnection {
	conn.SetReadLimit(maxInboundBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &websocketConnection{socket: conn}
}

func (wc *websocketConnection) Write(data []byte) error {
	wc.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return wc.socket.WriteMessage(websocket.TextMessage, data)
}

func (wc *websocketConnection) Ping() error {
	return wc.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (wc *websocketConnection) Read() ([]byte, error) {
	_, p, err := wc.socket.ReadMessage()
	return p, err
}

func (wc *websocketConnection) Close(reason string) {
	wc.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	wc.socket.Close()
}

type client struct {
	userID   string
	room     string
	conn     WebsocketConnection
	limiter  *rate.Limiter
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	closeMsg string
}

func newClient(userID, room string, conn WebsocketConnection) *client {
	return &client{
		userID:  userID,
		room:    room,
		conn:    conn,
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.shutdown(closeSendBufferFull)
	}
}

func (c *client) shutdown(reason string) {
	c.once.Do(func() {
		c.closeMsg = reason
		close(c.done)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			if err := c.conn.Write(data); err != nil {
				c.shutdown("")
				c.conn.Close("")
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				c.shutdown("")
				c.conn.Close("")
				return
			}
		case <-c.done:
			c.conn.Close(c.closeMsg)
			return
		}
	}
}

// Hub fans room events out to the websocket clients of each room member.
type Hub struct {
	locker         sync.RWMutex
	rooms          map[string]map[string]*client
	allowedOrigins []string
	log            zerolog.Logger
}

func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		rooms:          map[string]map[string]*client{},
		allowedOrigins: allowedOrigins,
		log:            log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Broadcast(roomCode string, scope Scope, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event.Type)).Msg("event encoding failed")
		return
	}

	h.locker.RLock()
	for userID, c := range h.rooms[roomCode] {
		if scope.Includes(userID) {
			c.enqueue(data)
		}
	}
	h.locker.RUnlock()

	if event.Type == EventRoomClosed {
		h.closeRoom(roomCode)
	}
}

func (h *Hub) attach(c *client) {
	h.locker.Lock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = map[string]*client{}
		h.rooms[c.room] = members
	}
	old := members[c.userID]
	members[c.userID] = c
	h.locker.Unlock()

	if old != nil {
		old.shutdown(closeReplaced)
	}
}

// detach removes c if it is still the registered client of its user and
// reports whether it was.
func (h *Hub) detach(c *client) bool {
	h.locker.Lock()
	defer h.locker.Unlock()
	members := h.rooms[c.room]
	if members[c.userID] != c {
		return false
	}
	delete(members, c.userID)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	return true
}

// Detach disconnects a user that left the room through another channel.
func (h *Hub) Detach(roomCode, userID string) {
	h.locker.Lock()
	c := h.rooms[roomCode][userID]
	if c != nil {
		delete(h.rooms[roomCode], userID)
		if len(h.rooms[roomCode]) == 0 {
			delete(h.rooms, roomCode)
		}
	}
	h.locker.Unlock()
	if c != nil {
		c.shutdown(closeLeftRoom)
	}
}

func (h *Hub) closeRoom(roomCode string) {
	h.locker.Lock()
	members := h.rooms[roomCode]
	delete(h.rooms, roomCode)
	h.locker.Unlock()
	for _, c := range members {
		c.shutdown(closeRoomClosed)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.locker.Lock()
	rooms := h.rooms
	h.rooms = map[string]map[string]*client{}
	h.locker.Unlock()
	for _, members := range rooms {
		for _, c := range members {
			c.shutdown(closeShutdown)
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.allowedOrigins, origin)
}

type inboundMessage struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Stroke *StrokeInput `json:"stroke,omitempty"`
}

type commandError struct {
	Command string `json:"command"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// ServeWS upgrades a room member and keeps the connection until it drops.
// Dropping marks the member disconnected; connecting again marks them back.
func (h *Hub) ServeWS(registry *Registry) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return func(ctx *gin.Context) {
		id, ok := identity(ctx)
		if !ok {
			return
		}
		code, ok := registry.RoomOf(id.UserID)
		if !ok {
			writeError(ctx, ErrNotInRoom)
			return
		}

		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			h.log.Warn().Err(err).Str("user", id.UserID).Msg("websocket upgrade failed")
			return
		}

		c := newClient(id.UserID, code, NewWebsocketConnection(conn))
		h.attach(c)
		go c.writePump()
		h.serve(registry, c)
	}
}

func (h *Hub) serve(registry *Registry, c *client) {
	logger := h.log.With().Str("room", c.room).Str("user", c.userID).Logger()

	if err := h.command(registry, c, func(ctx context.Context) error {
		return registry.SetConnected(ctx, c.userID, true)
	}); err != nil {
		logger.Warn().Err(err).Msg("marking member connected failed")
	}

	go func() {
		<-c.done
		// unblocks Read when the client was shut down from elsewhere
		c.conn.Close(c.closeMsg)
	}()

	for {
		data, err := c.conn.Read()
		if err != nil {
			break
		}
		if !c.limiter.Allow() {
			h.reply(c, commandError{Error: "rate-limited"})
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, commandError{Error: ErrInvalidRequestFormatStr})
			continue
		}
		h.dispatch(registry, c, msg)
	}

	c.shutdown("")
	if h.detach(c) {
		if err := h.command(registry, c, func(ctx context.Context) error {
			return registry.SetConnected(ctx, c.userID, false)
		}); err != nil {
			logger.Debug().Err(err).Msg("marking member disconnected failed")
		}
	}
}

func (h *Hub) command(registry *Registry, c *client, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()
	if code, ok := registry.RoomOf(c.userID); !ok || code != c.room {
		return ErrNotInRoom
	}
	return fn(ctx)
}

func (h *Hub) dispatch(registry *Registry, c *client, msg inboundMessage) {
	var err error
	switch msg.Type {
	case "guess":
		err = h.command(registry, c, func(ctx context.Context) error {
			_, err := registry.SubmitGuess(ctx, c.userID, msg.Text)
			return err
		})
	case "stroke":
		if msg.Stroke == nil {
			h.reply(c, commandError{Command: msg.Type, Error: ErrInvalidRequestFormatStr})
			return
		}
		err = h.command(registry, c, func(ctx context.Context) error {
			_, err := registry.AddStroke(ctx, c.userID, *msg.Stroke)
			return err
		})
	case "clearCanvas":
		err = h.command(registry, c, func(ctx context.Context) error {
			return registry.ClearCanvas(ctx, c.userID)
		})
	case "completeDrawing":
		err = h.command(registry, c, func(ctx context.Context) error {
			return registry.CompleteDrawing(ctx, c.userID)
		})
	default:
		h.reply(c, commandError{Command: msg.Type, Error: "unknown-command"})
		return
	}
	if err != nil {
		_, code := errorStatus(err)
		h.reply(c, commandError{Command: msg.Type, Error: code, Detail: err.Error()})
	}
}

func (h *Hub) reply(c *client, payload commandError) {
	data, err := json.Marshal(Event{Type: "error", RoomCode: c.room, At: time.Now(), Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}
