package main

import (
	"fmt"
	"time"

	"xiangqi-server/logging"
	"xiangqi-server/metrics"
	"xiangqi-server/rules"
)

// dispatch decodes and routes one command frame, following the tagged-variant
// shape design note 9 calls for: one handler per action, unknown tags mapping
// to a single rejection arm.
func (h *Hub) dispatch(c *Connection, action string, fields map[string]any) {
	var handler func(*Connection, map[string]any)
	switch action {
	case "set_username":
		handler = h.handleSetUsername
	case "create_room":
		handler = h.handleCreateRoom
	case "join_room":
		handler = h.handleJoinRoom
	case "leave_room":
		handler = h.handleLeaveRoom
	case "get_room_list":
		handler = h.handleGetRoomList
	case "chat_message":
		handler = h.handleChatMessage
	case "make_move":
		handler = h.handleMakeMove
	case "start_game":
		handler = h.handleStartGame
	case "private_message":
		handler = h.handlePrivateMessage
	case "change_member_role":
		handler = h.handleChangeMemberRole
	case "kick_member":
		handler = h.handleKickMember
	case "get_member_list":
		handler = h.handleGetMemberList
	case "mute_member":
		handler = func(c *Connection, f map[string]any) { h.handleMuteToggle(c, f, true) }
	case "unmute_member":
		handler = func(c *Connection, f map[string]any) { h.handleMuteToggle(c, f, false) }
	default:
		c.sendEvent("error", map[string]any{"message": "Unknown action"})
		metrics.CommandsTotal.WithLabelValues(action, "unknown").Inc()
		return
	}
	logging.Info("command dispatched", logging.ConnField(c.id), logging.ActionField(action))
	handler(c, fields)
	metrics.CommandsTotal.WithLabelValues(action, "handled").Inc()
}

func str(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

func num(fields map[string]any, key string) (int, bool) {
	v, ok := fields[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func (h *Hub) handleSetUsername(c *Connection, fields map[string]any) {
	username := str(fields, "username")
	if username == "" {
		c.sendEvent("error", map[string]any{"message": "Username cannot be empty"})
		return
	}
	if !h.bindUsername(c.id, username) {
		c.sendEvent("error", map[string]any{"message": fmt.Sprintf("Username %q is already taken", username)})
		return
	}
	c.username = username
	c.sendEvent("username_set", map[string]any{"username": username})
}

func (h *Hub) handleCreateRoom(c *Connection, fields map[string]any) {
	if c.username == "" {
		c.sendEvent("error", map[string]any{"message": "Set a username first"})
		return
	}
	roomName := str(fields, "room_name")
	if roomName == "" {
		roomName = fmt.Sprintf("%s's room", c.username)
	}
	password := str(fields, "password")

	room := h.registerRoom(roomName, password, c.username)
	c.sendEvent("room_created", map[string]any{
		"room_id":    room.RoomId,
		"room_name":  room.Name,
		"is_private": room.IsPrivate(),
	})
	logging.Info("room created", logging.RoomField(room.RoomId), logging.UserField(c.username))
}

func (h *Hub) handleJoinRoom(c *Connection, fields map[string]any) {
	if c.username == "" {
		c.sendEvent("error", map[string]any{"message": "Set a username first"})
		return
	}
	roomId := str(fields, "room_id")
	room, ok := h.getRoom(roomId)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Room not found"})
		return
	}
	if room.IsPrivate() && !room.CheckPassword(str(fields, "password")) {
		c.sendEvent("error", map[string]any{"message": "Incorrect password"})
		return
	}

	joinAs := RoleSpectator
	if str(fields, "join_as") == string(RolePlayer) {
		joinAs = RolePlayer
	}
	granted := room.AddMember(c.id, c.username, joinAs)
	c.roomId = room.RoomId

	players, spectators := room.Counts()
	metrics.RoomPlayers.WithLabelValues(room.RoomId).Set(float64(players))

	chatHistory := room.ChatHistory()
	lastMove := room.LastMoveSnapshot()
	c.sendEvent("joined_room", map[string]any{
		"room_id":     room.RoomId,
		"room_name":   room.Name,
		"join_as":     granted,
		"players":     room.PlayerNames(),
		"spectators":  spectators,
		"member_list": room.MemberList(),
		"chat_history": chatHistory,
		"last_move":    lastMove,
		"game_state":   gameStateFields(room.GameSnapshot()),
	})

	h.broadcastRoom(room, "user_joined", map[string]any{
		"username":    c.username,
		"players":     players,
		"spectators":  spectators,
		"member_list": room.MemberList(),
	}, c.id)
}

func (h *Hub) handleLeaveRoom(c *Connection, fields map[string]any) {
	room, ok := h.getRoom(c.roomId)
	if !ok {
		c.sendEvent("left_room", map[string]any{})
		return
	}

	h.departRoom(c, room)
	c.roomId = ""
	c.sendEvent("left_room", map[string]any{})
}

func (h *Hub) handleGetRoomList(c *Connection, fields map[string]any) {
	rooms := h.roomSnapshots()
	list := make([]map[string]any, 0, len(rooms))
	for _, r := range rooms {
		players, spectators := r.Counts()
		list = append(list, map[string]any{
			"room_id":     r.RoomId,
			"room_name":   r.Name,
			"is_private":  r.IsPrivate(),
			"players":     players,
			"spectators":  spectators,
			"game_status": r.GameSnapshot().Status,
		})
	}
	c.sendEvent("room_list", map[string]any{"rooms": list})
}

func (h *Hub) handleChatMessage(c *Connection, fields map[string]any) {
	room, ok := h.getRoom(c.roomId)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Not in a room"})
		return
	}
	text := str(fields, "message")
	if text == "" {
		c.sendEvent("error", map[string]any{"message": "Message cannot be empty"})
		return
	}
	if room.IsMuted(c.id) {
		c.sendEvent("chat_rejected", map[string]any{"reason": "You are muted"})
		return
	}
	msg := room.AppendChat(c.username, text)
	h.broadcastRoom(room, "chat_message", map[string]any{
		"username":  msg.Author,
		"message":   msg.Text,
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339),
	}, "")
}

// handleMakeMove implements SPEC_FULL.md §4.1/§4.2/§4.3: validate under the
// room's single critical section, broadcast move_made on success, or inject
// the cheating-intercept chat broadcast and reply move_rejected on failure.
func (h *Hub) handleMakeMove(c *Connection, fields map[string]any) {
	room, ok := h.getRoom(c.roomId)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Not in a room"})
		return
	}
	color, isPlayer := room.ColorFor(c.id)
	if !isPlayer {
		c.sendEvent("error", map[string]any{"message": "Only seated players may move"})
		return
	}
	if players, _ := room.Counts(); players != 2 {
		c.sendEvent("error", map[string]any{"message": "Waiting for a second player"})
		return
	}

	fromRow, _ := num(fields, "from_row")
	fromCol, _ := num(fields, "from_col")
	toRow, _ := num(fields, "to_row")
	toCol, _ := num(fields, "to_col")
	move := rules.Move{FromRow: fromRow, FromCol: fromCol, ToRow: toRow, ToCol: toCol}

	ok, reason := room.ValidateAndApplyMove(move, color)
	if !ok {
		metrics.MovesRejectedTotal.WithLabelValues(reason).Inc()
		accusation := room.AppendChat(SystemAuthor, fmt.Sprintf("%s可能在作弊，已经拦截！", c.username))
		h.broadcastRoom(room, "chat_message", map[string]any{
			"username":  accusation.Author,
			"message":   accusation.Text,
			"timestamp": accusation.Timestamp.UTC().Format(time.RFC3339),
		}, "")
		c.sendEvent("move_rejected", map[string]any{"reason": reason})
		return
	}

	room.SetLastMove(LastMove{FromRow: fromRow, FromCol: fromCol, ToRow: toRow, ToCol: toCol, PlayerName: c.username})
	snap := room.GameSnapshot()

	payload := map[string]any{
		"from_row": fromRow, "from_col": fromCol,
		"to_row": toRow, "to_col": toCol,
		"player_name": c.username,
	}
	for k, v := range gameStateFields(snap) {
		payload[k] = v
	}
	payload["last_move"] = room.LastMoveSnapshot()
	h.broadcastRoom(room, "move_made", payload, "")
}

func (h *Hub) handleStartGame(c *Connection, fields map[string]any) {
	room, ok := h.getRoom(c.roomId)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Not in a room"})
		return
	}
	if !room.CanStartGame(c.id) {
		c.sendEvent("error", map[string]any{"message": "Only the owner, seated as a player with an opponent present, can start"})
		return
	}
	room.StartGame()
	snap := room.GameSnapshot()
	h.broadcastRoom(room, "game_started", map[string]any{
		"current_player": snap.CurrentPlayer,
		"board":          snap.Board,
	}, "")
}

func (h *Hub) handlePrivateMessage(c *Connection, fields map[string]any) {
	target := str(fields, "target_username")
	text := str(fields, "message")
	if text == "" {
		c.sendEvent("error", map[string]any{"message": "Message cannot be empty"})
		return
	}
	targetConn, ok := h.findByUsername(target)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "User not found"})
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	targetConn.sendEvent("private_message", map[string]any{
		"from": c.username, "to": target, "message": text, "timestamp": now,
	})
	c.sendEvent("private_message_sent", map[string]any{
		"from": c.username, "to": target, "message": text, "timestamp": now,
	})
}

func (h *Hub) requireOwner(c *Connection) (*Room, bool) {
	room, ok := h.getRoom(c.roomId)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Not in a room"})
		return nil, false
	}
	if room.OwnerConnectionId != c.id {
		c.sendEvent("error", map[string]any{"message": "Only the owner may do that"})
		return nil, false
	}
	return room, true
}

func (h *Hub) handleChangeMemberRole(c *Connection, fields map[string]any) {
	room, ok := h.requireOwner(c)
	if !ok {
		return
	}
	target := str(fields, "target_connection_id")
	newRole := Role(str(fields, "new_role"))
	granted, ok := room.SetRole(target, newRole)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Member not found"})
		return
	}
	players, spectators := room.Counts()
	metrics.RoomPlayers.WithLabelValues(room.RoomId).Set(float64(players))
	h.broadcastRoom(room, "member_role_changed", map[string]any{
		"username":    memberUsername(room, target),
		"role":        granted,
		"players":     players,
		"spectators":  spectators,
		"member_list": room.MemberList(),
	}, "")
}

func (h *Hub) handleKickMember(c *Connection, fields map[string]any) {
	room, ok := h.requireOwner(c)
	if !ok {
		return
	}
	target := str(fields, "target_connection_id")
	if target == room.OwnerConnectionId {
		c.sendEvent("error", map[string]any{"message": "Cannot kick the owner"})
		return
	}
	username := memberUsername(room, target)
	room.RemoveMember(target)

	if targetConn, ok := h.getConnection(target); ok {
		targetConn.sendEvent("kicked_from_room", map[string]any{"message": "You have been removed from the room"})
		targetConn.roomId = ""
	}
	players, spectators := room.Counts()
	metrics.RoomPlayers.WithLabelValues(room.RoomId).Set(float64(players))
	h.broadcastRoom(room, "member_kicked", map[string]any{
		"username":    username,
		"players":     players,
		"spectators":  spectators,
		"member_list": room.MemberList(),
	}, target)
}

func (h *Hub) handleGetMemberList(c *Connection, fields map[string]any) {
	room, ok := h.getRoom(c.roomId)
	if !ok {
		c.sendEvent("error", map[string]any{"message": "Not in a room"})
		return
	}
	c.sendEvent("member_list", map[string]any{
		"member_list": room.MemberList(),
		"is_owner":    room.OwnerConnectionId == c.id,
	})
}

func (h *Hub) handleMuteToggle(c *Connection, fields map[string]any, muted bool) {
	room, ok := h.requireOwner(c)
	if !ok {
		return
	}
	target := str(fields, "target_connection_id")
	if target == room.OwnerConnectionId {
		c.sendEvent("error", map[string]any{"message": "Cannot mute the owner"})
		return
	}
	if !room.SetMuted(target, muted) {
		c.sendEvent("error", map[string]any{"message": "Member not found"})
		return
	}
	eventType := "member_muted"
	if !muted {
		eventType = "member_unmuted"
	}
	h.broadcastRoom(room, eventType, map[string]any{
		"username":    memberUsername(room, target),
		"member_list": room.MemberList(),
	}, "")
}

func memberUsername(room *Room, connectionId string) string {
	if m, ok := room.Member(connectionId); ok {
		return m.DisplayName
	}
	return ""
}

// gameStateFields flattens a rules.Game snapshot into the wire fields shared
// by joined_room.game_state, move_made, and game_started.
func gameStateFields(g *rules.Game) map[string]any {
	return map[string]any{
		"board":          g.Board,
		"current_player": g.CurrentPlayer,
		"game_status":    g.Status,
		"winner":         g.Winner,
	}
}
