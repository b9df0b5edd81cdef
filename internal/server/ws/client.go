package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// client is one WebSocket connection. Empty filters match everything.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.RWMutex
	kinds   map[domain.EventKind]bool
	records map[string]bool
}

// filterMsg changes a client's subscription:
//
//	{"action":"subscribe","kinds":["pool_resolved"],"records":["0x..."]}
//	{"action":"unsubscribe","kinds":["pool_resolved"]}
//	{"action":"reset"}
type filterMsg struct {
	Action  string             `json:"action"`
	Kinds   []domain.EventKind `json:"kinds"`
	Records []string           `json:"records"`
}

func (c *client) wants(msg envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.kinds) > 0 && !c.kinds[msg.kind] {
		return false
	}
	if len(c.records) == 0 {
		return true
	}
	for _, r := range msg.records {
		if c.records[r] {
			return true
		}
	}
	return false
}

func (c *client) apply(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
		for _, r := range msg.Records {
			c.records[strings.ToLower(r)] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
		for _, r := range msg.Records {
			delete(c.records, strings.ToLower(r))
		}
	case "reset":
		clear(c.kinds)
		clear(c.records)
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

// sendHello tells the client the connection is live before any event flows.
func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": max(0, int64(time.Since(c.hub.startedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
