package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer   = 64
	outboxBuffer = 256
)

// Hub pushes reminder and export events to operators. Every connection is
// indexed by its user and by its organization.
type Hub struct {
	users map[int64]map[*Connection]struct{}
	orgs  map[string]map[*Connection]struct{}

	register   chan *Connection
	unregister chan *Connection
	outbox     chan delivery

	upgrader websocket.Upgrader
	log      *zap.Logger

	mu sync.RWMutex
}

type Connection struct {
	ws     *websocket.Conn
	userID int64
	orgID  string
	send   chan *Message
	hub    *Hub
}

type Message struct {
	UserID         int64       `json:"user_id,omitempty"`
	OrganizationID string      `json:"organization_id,omitempty"`
	Type           string      `json:"type"`
	Channel        string      `json:"channel,omitempty"`
	Data           interface{} `json:"data"`
}

// delivery targets one user when userID is set, otherwise a whole organization.
type delivery struct {
	userID int64
	orgID  string
	msg    *Message
}

// NewHub accepts connections from the given origins; none means any origin.
func NewHub(allowedOrigins ...string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			allowed[o] = true
		}
	}

	return &Hub{
		users:      make(map[int64]map[*Connection]struct{}),
		orgs:       make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		outbox:     make(chan delivery, outboxBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return len(allowed) == 0 || allowed[r.Header.Get("Origin")]
			},
		},
		log: zap.L().Named("ws"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.add(conn)
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()

		case d := <-h.outbox:
			h.mu.Lock()
			targets := h.users[d.userID]
			if d.userID == 0 {
				targets = h.orgs[d.orgID]
			}
			for conn := range targets {
				select {
				case conn.send <- d.msg:
				default:
					h.log.Warn("slow websocket consumer dropped", zap.Int64("user_id", conn.userID))
					h.remove(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var conns []*Connection
	for _, m := range h.users {
		for c := range m {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	// closed outside the lock so the pumps can unregister
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// add and remove must be called with mu held.
func (h *Hub) add(conn *Connection) {
	if h.users[conn.userID] == nil {
		h.users[conn.userID] = make(map[*Connection]struct{})
	}
	h.users[conn.userID][conn] = struct{}{}

	if conn.orgID == "" {
		return
	}
	if h.orgs[conn.orgID] == nil {
		h.orgs[conn.orgID] = make(map[*Connection]struct{})
	}
	h.orgs[conn.orgID][conn] = struct{}{}
}

func (h *Hub) remove(conn *Connection) {
	byUser, ok := h.users[conn.userID]
	if !ok {
		return
	}
	if _, exists := byUser[conn]; !exists {
		return
	}
	delete(byUser, conn)
	if len(byUser) == 0 {
		delete(h.users, conn.userID)
	}

	if byOrg, ok := h.orgs[conn.orgID]; ok {
		delete(byOrg, conn)
		if len(byOrg) == 0 {
			delete(h.orgs, conn.orgID)
		}
	}
	close(conn.send)
}

// Broadcast sends message to every connection of one user.
func (h *Hub) Broadcast(userID int64, message *Message) {
	message.UserID = userID
	h.enqueue(delivery{userID: userID, msg: message})
}

// BroadcastOrganization sends message to every operator of an organization.
func (h *Hub) BroadcastOrganization(orgID string, message *Message) {
	message.OrganizationID = orgID
	h.enqueue(delivery{orgID: orgID, msg: message})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.outbox <- d:
	default:
		h.log.Warn("hub outbox is full, dropping message",
			zap.Int64("user_id", d.userID),
			zap.String("organization_id", d.orgID),
			zap.String("type", d.msg.Type),
		)
	}
}

// ConnectionCount returns the number of open connections of a user.
func (h *Hub) ConnectionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// OrganizationConnectionCount returns the number of open connections of an organization.
func (h *Hub) OrganizationConnectionCount(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.orgs[orgID])
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID int64, orgID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Connection{
		ws:     ws,
		userID: userID,
		orgID:  orgID,
		send:   make(chan *Message, sendBuffer),
		hub:    h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

// readPump only drains control frames; operators never send data.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(message); err != nil {
				c.hub.log.Debug("websocket write error", zap.Int64("user_id", c.userID), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
