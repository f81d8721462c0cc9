package main

import (
	"sync"
	"time"

	"xiangqi-server/rules"
)

// Role is a member's standing within a room.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Member is a per-room record keyed by ConnectionId.
type Member struct {
	ConnectionId string
	DisplayName  string
	Role         Role
	JoinTime     time.Time
	Muted        bool
}

// ChatMessage is an append-only chat log entry.
type ChatMessage struct {
	Author    string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemAuthor is the author name used for server-injected chat entries,
// e.g. the cheating-accusation broadcast.
const SystemAuthor = "System"

// LastMove records the most recently accepted move, echoed to late joiners.
type LastMove struct {
	FromRow, FromCol, ToRow, ToCol int
	PlayerName                     string
}

// Room is the in-memory aggregate holding one game plus its audience: thin
// wrapper mutating a rules.Game, adapted from the teacher's Room type —
// mafia-specific GameState/Task/votes fields replaced with Xiangqi's Game,
// LastMove, and chat log.
type Room struct {
	mu sync.Mutex

	RoomId            string
	Name              string
	Password          string
	OwnerName         string
	OwnerConnectionId string
	CreatedAt         time.Time

	Game     *rules.Game
	LastMove *LastMove
	ChatLog  []ChatMessage
	chatCap  int

	Members map[string]*Member
	// playerOrder records the ConnectionIds granted role=player, in the
	// order they were granted it. The first is red, the second is black —
	// the same first-joined-is-red convention the original Python server
	// uses (color is derived from join order, not stored on the member).
	playerOrder []string
}

// NewRoom constructs an empty room in the waiting state.
func NewRoom(roomId, name, password, ownerName string, chatCap int) *Room {
	return &Room{
		RoomId:    roomId,
		Name:      name,
		Password:  password,
		OwnerName: ownerName,
		CreatedAt: time.Now(),
		Game:      rules.NewGame(),
		Members:   make(map[string]*Member),
		chatCap:   chatCap,
	}
}

func (r *Room) IsPrivate() bool {
	return r.Password != ""
}

func (r *Room) CheckPassword(attempt string) bool {
	return r.Password == "" || r.Password == attempt
}

// playerCountLocked counts current players; caller must hold r.mu.
func (r *Room) playerCountLocked() int {
	n := 0
	for _, m := range r.Members {
		if m.Role == RolePlayer {
			n++
		}
	}
	return n
}

func (r *Room) spectatorCountLocked() int {
	n := 0
	for _, m := range r.Members {
		if m.Role == RoleSpectator {
			n++
		}
	}
	return n
}

// AddMember admits a connection to the room. If joinAs is RolePlayer but two
// players are already seated, the grant is silently downgraded to spectator —
// the capacity rule of SPEC_FULL.md §4.1.
func (r *Room) AddMember(connectionId, displayName string, joinAs Role) Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	grantedRole := joinAs
	if joinAs == RolePlayer && r.playerCountLocked() >= 2 {
		grantedRole = RoleSpectator
	}

	r.Members[connectionId] = &Member{
		ConnectionId: connectionId,
		DisplayName:  displayName,
		Role:         grantedRole,
		JoinTime:     time.Now(),
	}
	if grantedRole == RolePlayer {
		r.playerOrder = append(r.playerOrder, connectionId)
	}
	if r.OwnerName == displayName && r.OwnerConnectionId == "" {
		r.OwnerConnectionId = connectionId
	}
	return grantedRole
}

// RemoveMember drops a connection from the room. It reports whether the
// removed connection was the owner — the caller tears the room down if so.
func (r *Room) RemoveMember(connectionId string) (wasOwner bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.Members, connectionId)
	for i, id := range r.playerOrder {
		if id == connectionId {
			r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
			break
		}
	}
	return connectionId == r.OwnerConnectionId
}

func (r *Room) Member(connectionId string) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Members[connectionId]
	return m, ok
}

// ColorFor reports the rules.Color assigned to a seated player, derived from
// join order: first player is red, second is black.
func (r *Room) ColorFor(connectionId string) (rules.Color, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.playerOrder {
		if id == connectionId {
			if i == 0 {
				return rules.Red, true
			}
			return rules.Black, true
		}
	}
	return "", false
}

// SetRole changes a member's role, subject to the same capacity rule as
// AddMember. It reports the role actually granted.
func (r *Room) SetRole(connectionId string, newRole Role) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.Members[connectionId]
	if !ok {
		return "", false
	}
	if newRole == RolePlayer && m.Role != RolePlayer && r.playerCountLocked() >= 2 {
		newRole = RoleSpectator
	}
	if m.Role == RolePlayer && newRole != RolePlayer {
		for i, id := range r.playerOrder {
			if id == connectionId {
				r.playerOrder = append(r.playerOrder[:i], r.playerOrder[i+1:]...)
				break
			}
		}
	}
	if newRole == RolePlayer && m.Role != RolePlayer {
		r.playerOrder = append(r.playerOrder, connectionId)
	}
	m.Role = newRole
	return newRole, true
}

func (r *Room) SetMuted(connectionId string, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Members[connectionId]
	if !ok {
		return false
	}
	m.Muted = muted
	return true
}

func (r *Room) IsMuted(connectionId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Members[connectionId]
	return ok && m.Muted
}

// ChatHistory returns a copy of the chat log, safe to read without holding
// r.mu — callers must not read r.ChatLog directly, since AppendChat
// reassigns it under lock from other connections' goroutines.
func (r *Room) ChatHistory() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatMessage, len(r.ChatLog))
	copy(out, r.ChatLog)
	return out
}

// LastMoveSnapshot returns a copy of the most recent move, or nil if none has
// been played yet. Callers must not read r.LastMove directly, since
// SetLastMove reassigns it under lock from other connections' goroutines.
func (r *Room) LastMoveSnapshot() *LastMove {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LastMove == nil {
		return nil
	}
	lm := *r.LastMove
	return &lm
}

// AppendChat appends a chat entry, trimming to chatCap if set.
func (r *Room) AppendChat(author, text string) ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := ChatMessage{Author: author, Text: text, Timestamp: time.Now()}
	r.ChatLog = append(r.ChatLog, msg)
	if r.chatCap > 0 && len(r.ChatLog) > r.chatCap {
		r.ChatLog = r.ChatLog[len(r.ChatLog)-r.chatCap:]
	}
	return msg
}

// MemberListEntry is the wire shape of one roster row (§6 "Member list entry").
type MemberListEntry struct {
	WebsocketId string `json:"websocket_id"`
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	IsOwner     bool   `json:"is_owner"`
	IsMuted     bool   `json:"is_muted"`
	JoinTime    string `json:"join_time"`
}

func (r *Room) MemberList() []MemberListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemberListEntry, 0, len(r.Members))
	for _, m := range r.Members {
		out = append(out, MemberListEntry{
			WebsocketId: m.ConnectionId,
			Username:    m.DisplayName,
			Role:        m.Role,
			IsOwner:     m.ConnectionId == r.OwnerConnectionId,
			IsMuted:     m.Muted,
			JoinTime:    m.JoinTime.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (r *Room) Counts() (players, spectators int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerCountLocked(), r.spectatorCountLocked()
}

// PlayerNames returns the display names of current players, in join order.
func (r *Room) PlayerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.playerOrder))
	for _, id := range r.playerOrder {
		if m, ok := r.Members[id]; ok {
			names = append(names, m.DisplayName)
		}
	}
	return names
}

func (r *Room) SetLastMove(lm LastMove) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastMove = &lm
}

// StartGame flips the game to playing. Callers must check CanStartGame first.
func (r *Room) StartGame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Game.Status = rules.StatusPlaying
}

// ValidateAndApplyMove checks a proposed move and, if legal, applies it — all
// under a single lock acquisition, so validation and mutation form one
// critical section and no other command can observe a half-applied move
// (SPEC_FULL.md §5).
func (r *Room) ValidateAndApplyMove(m rules.Move, by rules.Color) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, reason := rules.ValidateMove(r.Game, m, by)
	if !ok {
		return false, reason
	}
	rules.ApplyMove(r.Game, m)
	return true, ""
}

// GameSnapshot returns a copy of the fields clients need serialized.
func (r *Room) GameSnapshot() *rules.Game {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := *r.Game
	return &g
}

func (r *Room) CanStartGame(callerConnectionId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if callerConnectionId != r.OwnerConnectionId {
		return false
	}
	owner, ok := r.Members[callerConnectionId]
	if !ok || owner.Role != RolePlayer {
		return false
	}
	return r.playerCountLocked() == 2
}
