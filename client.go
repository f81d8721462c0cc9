package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"xiangqi-server/logging"
)

// Transport tuning, carried over from the teacher's client.go unchanged:
// these values govern how aggressively we detect a dead peer, not anything
// domain-specific.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connection is one client's persistent transport session: the opaque
// ConnectionId of SPEC_FULL.md §3, bound to at most one DisplayName and at
// most one Room at a time.
type Connection struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id          string
	remoteAddr  string
	username    string
	roomId      string
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	if !hub.limiter.AllowConnect(r.Context(), r.RemoteAddr) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Connection{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 256),
		id:         uuid.New().String(),
		remoteAddr: r.RemoteAddr,
	}

	hub.registerConnection(c)
	logging.Info("connection accepted", logging.ConnField(c.id), zap.String("remote_addr", c.remoteAddr))

	go c.writePump()
	go c.readPump()
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregisterConnection(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("connection read error", logging.ConnField(c.id), zap.Error(err))
			}
			break
		}
		if !c.hub.limiter.AllowCommand(context.Background(), c.id) {
			c.sendEvent("error", map[string]any{"message": "Rate limit exceeded"})
			continue
		}
		c.handleFrame(message)
	}
}

func (c *Connection) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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

// handleFrame decodes one inbound JSON frame and dispatches it to the hub's
// command table. A recover guard maps any panic during dispatch to the
// taxonomy's "Internal errors" row: logged, answered with a generic error,
// connection left open (SPEC_FULL.md §7/§10).
func (c *Connection) handleFrame(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("panic while handling command", logging.ConnField(c.id), zap.Any("recovered", rec))
			c.sendEvent("error", map[string]any{"message": "Server error"})
		}
	}()

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.sendEvent("error", map[string]any{"message": "Invalid JSON"})
		return
	}

	action, _ := fields["action"].(string)
	c.hub.dispatch(c, action, fields)
}

// sendEvent marshals {"type": eventType, ...fields} and queues it for
// delivery, non-blocking — a full send buffer means a slow/dead peer, and we
// drop rather than block the caller (SPEC_FULL.md §5 broadcast semantics
// extended to direct sends).
func (c *Connection) sendEvent(eventType string, fields map[string]any) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = eventType
	payload, err := json.Marshal(out)
	if err != nil {
		logging.Error("failed to marshal event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		logging.Warn("dropping event: send buffer full", logging.ConnField(c.id), zap.String("event_type", eventType))
	}
}
