package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bazaarchat/chat-service/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

// clientCommand is what a connected client may ask for: joining or leaving a
// conversation room.
type clientCommand struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
}

// serverEvent wraps an outbound frame.
type serverEvent struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Connection is one client's websocket session. It tracks which conversation
// rooms the session has joined and relays hub events to the socket. Outbound
// writes funnel through a buffered channel; if the client cannot keep up the
// connection is closed to keep backpressure bounded.
type Connection struct {
	ID     string
	UserID string

	hub    *Hub
	ws     *websocket.Conn
	logger *logrus.Logger

	send  chan []byte
	done  chan struct{}
	once  sync.Once
	subMu sync.Mutex
	subs  map[string]*Subscription
}

func NewConnection(userID string, ws *websocket.Conn, hub *Hub, logger *logrus.Logger) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		hub:    hub,
		ws:     ws,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]*Subscription),
	}
}

// Run services the socket until the client disconnects or the connection is
// closed. It blocks; callers run it on the handler's goroutine.
func (c *Connection) Run() {
	go c.writeLoop()
	c.readLoop()
	c.Close(websocket.CloseNormalClosure, "client gone")
}

// Close tears the session down: every room subscription is released so no
// delivery registrations leak past the view that owned them.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.subMu.Lock()
		for _, sub := range c.subs {
			sub.Close()
		}
		c.subs = make(map[string]*Subscription)
		c.subMu.Unlock()

		close(c.done)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) readLoop() {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.sendEvent(serverEvent{Type: "error", Error: "malformed command"})
			continue
		}

		switch cmd.Action {
		case "join":
			c.join(cmd.ConversationID)
		case "leave":
			c.leave(cmd.ConversationID)
		default:
			c.sendEvent(serverEvent{Type: "error", Error: "unknown action"})
		}
	}
}

func (c *Connection) join(conversationID string) {
	if conversationID == "" {
		c.sendEvent(serverEvent{Type: "error", Error: "conversation_id required"})
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[conversationID]; ok {
		return
	}
	c.subs[conversationID] = c.hub.Subscribe(conversationID, func(msg *models.Message) {
		c.sendEvent(serverEvent{Type: "message", Message: msg})
	})
}

func (c *Connection) leave(conversationID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sub, ok := c.subs[conversationID]; ok {
		sub.Close()
		delete(c.subs, conversationID)
	}
}

func (c *Connection) sendEvent(ev serverEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = c.enqueue(payload)
}

func (c *Connection) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.logger.WithFields(logrus.Fields{
			"connection_id": c.ID,
			"user_id":       c.UserID,
		}).Warn("Closing websocket client that cannot keep up")
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.writeMessage(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
