package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	// Sessions longer than this are clamped; a client that never sent
	// session-end should not book a day of usage.
	maxSessionLength = 4 * time.Hour
)

// TokenParser resolves a bearer token to its user.
type TokenParser interface {
	ParseToken(token string) (uuid.UUID, string, error)
}

// SessionRecorder books a finished app session into daily usage.
type SessionRecorder interface {
	RecordSession(ctx context.Context, userID uuid.UUID, duration time.Duration) error
}

type client struct {
	conn    *websocket.Conn
	userID  uuid.UUID
	writeMu sync.Mutex
	started *time.Time
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub keeps every live connection per user. With Redis configured it relays
// the user's pub/sub channel to the connections, so any process can publish;
// without it, Publish delivers in-process.
type Hub struct {
	mu          sync.RWMutex
	clients     map[uuid.UUID][]*client
	cancelFuncs map[uuid.UUID]context.CancelFunc

	redisClient *redis.Client
	auth        TokenParser
	sessions    SessionRecorder
	log         *logger.Logger
	upgrader    websocket.Upgrader
	now         func() time.Time
}

func NewHub(redisClient *redis.Client, auth TokenParser, sessions SessionRecorder, log *logger.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	h := &Hub{
		clients:     make(map[uuid.UUID][]*client),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		redisClient: redisClient,
		auth:        auth,
		sessions:    sessions,
		log:         log,
		now:         time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Native clients send no Origin.
		return origin == "" || set[origin]
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, _, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, userID: userID}
	h.register(c)
	go h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *Hub) handleMessage(c *client, data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Debug("ignoring malformed websocket message", "user_id", c.userID, "error", err)
		return
	}

	switch msg.Type {
	case models.MessageSessionStart:
		now := h.now()
		c.started = &now
		h.reply(c, models.EventSessionStarted, models.SessionEvent{Timestamp: now})

	case models.MessageSessionEnd:
		var p models.SessionEndPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				h.log.Debug("bad session-end payload", "user_id", c.userID, "error", err)
				return
			}
		}
		duration := time.Duration(p.DurationSeconds * float64(time.Second))
		if duration <= 0 && c.started != nil {
			duration = h.now().Sub(*c.started)
		}
		c.started = nil
		if duration <= 0 {
			return
		}
		if duration > maxSessionLength {
			duration = maxSessionLength
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := h.sessions.RecordSession(ctx, c.userID, duration); err != nil {
			h.log.Error("failed to record session usage", "user_id", c.userID, "error", err)
			return
		}
		h.reply(c, models.EventSessionRecorded, models.SessionEvent{Timestamp: h.now(), Minutes: duration.Minutes()})

	default:
		h.log.Debug("ignoring websocket message", "user_id", c.userID, "type", msg.Type)
	}
}

func (h *Hub) reply(c *client, event string, payload interface{}) {
	data, err := json.Marshal(models.WSMessage{Type: event, Payload: payload})
	if err != nil {
		return
	}
	if err := c.write(data); err != nil {
		h.log.Debug("websocket write failed", "user_id", c.userID, "error", err)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.userID] = append(h.clients[c.userID], c)

	// First connection for this user starts the relay.
	if len(h.clients[c.userID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[c.userID] = cancel
		go h.subscribe(ctx, c.userID)
	}

	h.log.Info("websocket connected", "user_id", c.userID, "connections", len(h.clients[c.userID]))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = c.conn.Close()

	list := h.clients[c.userID]
	for i, other := range list {
		if other == c {
			h.clients[c.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}

	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
		if cancel, ok := h.cancelFuncs[c.userID]; ok {
			cancel()
			delete(h.cancelFuncs, c.userID)
		}
	}

	h.log.Info("websocket disconnected", "user_id", c.userID)
}

func (h *Hub) subscribe(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, models.UserChannel(userID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(userID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	list := append([]*client(nil), h.clients[userID]...)
	h.mu.RUnlock()

	for _, c := range list {
		if err := c.write(data); err != nil {
			h.log.Debug("websocket write failed", "user_id", userID, "error", err)
		}
	}
}

// Publish sends an event to every connection of userID, through Redis when
// configured so other instances' connections get it too.
func (h *Hub) Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	data, err := json.Marshal(models.WSMessage{Type: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if h.redisClient != nil {
		return h.redisClient.Publish(ctx, models.UserChannel(userID), data).Err()
	}
	h.broadcast(userID, data)
	return nil
}

// Connections reports how many live connections userID has.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*client
	for _, list := range h.clients {
		all = append(all, list...)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}
