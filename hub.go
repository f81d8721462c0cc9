package main

import (
	"crypto/rand"
	"strings"
	"sync"

	"go.uber.org/zap"

	"xiangqi-server/config"
	"xiangqi-server/logging"
	"xiangqi-server/metrics"
	"xiangqi-server/ratelimit"
)

// Hub is the SessionHub of SPEC_FULL.md §4.1: the process-wide registry of
// active connections, the display-name registry, and the room registry. It
// replaces the teacher's mafia-lobby Hub — the register/unregister channel
// pattern is dropped in favor of direct mutex-guarded registry access, since
// the spec's design notes call for resolving ConnectionId -> Connection "on
// demand" from the hub rather than routing through a run-loop goroutine.
type Hub struct {
	mu sync.RWMutex

	connections map[string]*Connection // ConnectionId -> Connection
	usernames   map[string]string      // username -> ConnectionId
	rooms       map[string]*Room       // RoomId -> Room

	cfg     *config.Config
	limiter *ratelimit.Limiter
}

func NewHub(cfg *config.Config, limiter *ratelimit.Limiter) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		usernames:   make(map[string]string),
		rooms:       make(map[string]*Room),
		cfg:         cfg,
		limiter:     limiter,
	}
}

func (h *Hub) registerConnection(c *Connection) {
	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
	metrics.IncConnection()
}

// unregisterConnection tears down everything owned by a closed connection:
// its room membership (destroying the room if it was the owner), its
// username binding, and the connection registry entry itself.
func (h *Hub) unregisterConnection(c *Connection) {
	h.mu.Lock()
	room := h.rooms[c.roomId]
	delete(h.connections, c.id)
	if c.username != "" {
		delete(h.usernames, c.username)
	}
	h.mu.Unlock()

	if room != nil {
		h.departRoom(c, room)
	}

	metrics.DecConnection()
	logging.Info("connection closed", logging.ConnField(c.id), logging.UserField(c.username))
}

// departRoom removes c from room, tearing the room down if c was the owner.
func (h *Hub) departRoom(c *Connection, room *Room) {
	wasOwner := room.RemoveMember(c.id)

	if wasOwner {
		h.destroyRoom(room)
		return
	}

	players, spectators := room.Counts()
	metrics.RoomPlayers.WithLabelValues(room.RoomId).Set(float64(players))
	h.broadcastRoom(room, "user_left", map[string]any{
		"username":    c.username,
		"players":     players,
		"spectators":  spectators,
		"member_list": room.MemberList(),
	}, c.id)
}

// destroyRoom broadcasts room_deleted to every remaining member, then removes
// the room from the registry. Member connections keep their username
// sessions — only their in-room state is dropped.
func (h *Hub) destroyRoom(room *Room) {
	h.broadcastRoom(room, "room_deleted", map[string]any{
		"message": "房主已退出，房间即将关闭",
	}, "")

	h.mu.Lock()
	delete(h.rooms, room.RoomId)
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	for _, m := range room.MemberList() {
		if conn, ok := h.getConnection(m.WebsocketId); ok {
			conn.roomId = ""
		}
	}

	metrics.RoomPlayers.DeleteLabelValues(room.RoomId)
	logging.Info("room destroyed", logging.RoomField(room.RoomId))
}

func (h *Hub) getConnection(connectionId string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.connections[connectionId]
	return c, ok
}

func (h *Hub) getRoom(roomId string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomId]
	return r, ok
}

func (h *Hub) findByUsername(username string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.usernames[username]
	if !ok {
		return nil, false
	}
	c, ok := h.connections[id]
	return c, ok
}

// bindUsername claims a display name for a connection. Returns false if the
// name is already taken by an active session.
func (h *Hub) bindUsername(connectionId, username string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.usernames[username]; taken {
		return false
	}
	h.usernames[username] = connectionId
	return true
}

// registerRoom inserts room under a freshly generated, collision-free RoomId.
func (h *Hub) registerRoom(name, password, ownerName string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	var id string
	for {
		id = generateRoomId()
		if _, exists := h.rooms[id]; !exists {
			break
		}
	}
	room := NewRoom(id, name, password, ownerName, h.cfg.ChatHistoryLimit)
	h.rooms[id] = room
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	return room
}

func (h *Hub) roomSnapshots() []*Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	return out
}

// generateRoomId produces an 8-character uppercase alphanumeric token from a
// cryptographic-quality random source by sampling the alphabet directly with
// crypto/rand (SPEC_FULL.md's resolved Open Question); registerRoom retries
// on collision.
func generateRoomId() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, 8)
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		logging.Error("crypto/rand read failed generating room id", zap.Error(err))
	}
	for i, b := range randBytes {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return strings.ToUpper(string(buf))
}

// broadcastRoom enumerates room's current members and sends eventType to
// each resolvable connection, skipping excludeConnectionId if non-empty.
// Delivery failures for closed connections are swallowed silently — this is
// the hub resolving ConnectionId -> Connection "on demand" per design note 9.
func (h *Hub) broadcastRoom(room *Room, eventType string, fields map[string]any, excludeConnectionId string) {
	for _, m := range room.MemberList() {
		if m.WebsocketId == excludeConnectionId {
			continue
		}
		if conn, ok := h.getConnection(m.WebsocketId); ok {
			conn.sendEvent(eventType, fields)
		}
	}
}
