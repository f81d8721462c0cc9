package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"xiangqi-server/config"
	"xiangqi-server/ratelimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	cfg := &config.Config{ChatHistoryLimit: 200}
	lim, err := ratelimit.New("1000-M", "1000-M")
	require.NoError(t, err)
	return NewHub(cfg, lim)
}

func newTestConnection(id string) *Connection {
	return &Connection{id: id, send: make(chan []byte, 32)}
}

func drain(t *testing.T, c *Connection) map[string]any {
	t.Helper()
	select {
	case payload := <-c.send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(payload, &out))
		return out
	default:
		t.Fatal("expected a queued event, found none")
		return nil
	}
}

func TestSetUsernameCollision(t *testing.T) {
	h := newTestHub(t)
	c1 := newTestConnection("c1")
	c2 := newTestConnection("c2")
	h.registerConnection(c1)
	h.registerConnection(c2)

	h.dispatch(c1, "set_username", map[string]any{"username": "alice"})
	evt := drain(t, c1)
	assert.Equal(t, "username_set", evt["type"])

	h.dispatch(c2, "set_username", map[string]any{"username": "alice"})
	evt = drain(t, c2)
	assert.Equal(t, "error", evt["type"])
	assert.Contains(t, evt["message"], "alice")

	h.unregisterConnection(c1)
	h.unregisterConnection(c2)
}

func TestPrivateRoomPasswordFlow(t *testing.T) {
	h := newTestHub(t)
	owner := newTestConnection("owner")
	guest := newTestConnection("guest")
	h.registerConnection(owner)
	h.registerConnection(guest)
	owner.username = "alice"
	h.bindUsername(owner.id, owner.username)
	guest.username = "bob"
	h.bindUsername(guest.id, guest.username)

	h.dispatch(owner, "create_room", map[string]any{"room_name": "g", "password": "p"})
	created := drain(t, owner)
	roomId := created["room_id"].(string)

	h.dispatch(guest, "join_room", map[string]any{"room_id": roomId, "password": "x"})
	evt := drain(t, guest)
	assert.Equal(t, "error", evt["type"])
	assert.Equal(t, "Incorrect password", evt["message"])

	h.dispatch(guest, "join_room", map[string]any{"room_id": roomId, "password": "p"})
	evt = drain(t, guest)
	assert.Equal(t, "joined_room", evt["type"])

	h.unregisterConnection(owner)
	h.unregisterConnection(guest)
}

func TestUnknownActionProducesError(t *testing.T) {
	h := newTestHub(t)
	c := newTestConnection("c1")
	h.registerConnection(c)

	h.dispatch(c, "do_a_backflip", nil)
	evt := drain(t, c)
	assert.Equal(t, "error", evt["type"])
	assert.Equal(t, "Unknown action", evt["message"])

	h.unregisterConnection(c)
}

func TestMutedMemberChatProducesNoBroadcast(t *testing.T) {
	h := newTestHub(t)
	owner := newTestConnection("owner")
	member := newTestConnection("member")
	h.registerConnection(owner)
	h.registerConnection(member)
	owner.username = "alice"
	h.bindUsername(owner.id, "alice")
	member.username = "bob"
	h.bindUsername(member.id, "bob")

	h.dispatch(owner, "create_room", map[string]any{"room_name": "g"})
	created := drain(t, owner)
	roomId := created["room_id"].(string)

	h.dispatch(owner, "join_room", map[string]any{"room_id": roomId, "join_as": "player"})
	drain(t, owner) // joined_room

	h.dispatch(member, "join_room", map[string]any{"room_id": roomId, "join_as": "spectator"})
	drain(t, member)  // joined_room
	drain(t, owner)   // user_joined

	room, ok := h.getRoom(roomId)
	require.True(t, ok)
	room.SetMuted(member.id, true)

	h.dispatch(member, "chat_message", map[string]any{"message": "hello"})
	evt := drain(t, member)
	assert.Equal(t, "chat_rejected", evt["type"])

	select {
	case <-owner.send:
		t.Fatal("owner must not receive a chat broadcast from a muted member")
	default:
	}

	h.unregisterConnection(owner)
	h.unregisterConnection(member)
}

func TestOwnerDepartureTearsRoomDown(t *testing.T) {
	h := newTestHub(t)
	owner := newTestConnection("owner")
	spectator := newTestConnection("spectator")
	h.registerConnection(owner)
	h.registerConnection(spectator)
	owner.username = "alice"
	h.bindUsername(owner.id, "alice")
	spectator.username = "bob"
	h.bindUsername(spectator.id, "bob")

	h.dispatch(owner, "create_room", map[string]any{"room_name": "g"})
	created := drain(t, owner)
	roomId := created["room_id"].(string)

	h.dispatch(owner, "join_room", map[string]any{"room_id": roomId, "join_as": "player"})
	drain(t, owner)

	h.dispatch(spectator, "join_room", map[string]any{"room_id": roomId, "join_as": "spectator"})
	drain(t, spectator)
	drain(t, owner) // user_joined

	h.unregisterConnection(owner)

	evt := drain(t, spectator)
	assert.Equal(t, "room_deleted", evt["type"])
	assert.Contains(t, evt["message"], "房主")

	_, stillExists := h.getRoom(roomId)
	assert.False(t, stillExists)

	h.unregisterConnection(spectator)
}

func TestCheatingMoveBroadcastsSystemAccusation(t *testing.T) {
	h := newTestHub(t)
	owner := newTestConnection("owner")
	opponent := newTestConnection("opponent")
	h.registerConnection(owner)
	h.registerConnection(opponent)
	owner.username = "alice"
	h.bindUsername(owner.id, "alice")
	opponent.username = "bob"
	h.bindUsername(opponent.id, "bob")

	h.dispatch(owner, "create_room", map[string]any{"room_name": "g"})
	created := drain(t, owner)
	roomId := created["room_id"].(string)

	h.dispatch(owner, "join_room", map[string]any{"room_id": roomId, "join_as": "player"})
	drain(t, owner)
	h.dispatch(opponent, "join_room", map[string]any{"room_id": roomId, "join_as": "player"})
	drain(t, opponent)
	drain(t, owner) // user_joined

	// red (owner) attempts an illegal move
	h.dispatch(owner, "make_move", map[string]any{
		"from_row": float64(0), "from_col": float64(0),
		"to_row": float64(5), "to_col": float64(5),
	})

	accusationToOwner := drain(t, owner)
	assert.Equal(t, "chat_message", accusationToOwner["type"])
	assert.Equal(t, SystemAuthor, accusationToOwner["username"])

	rejected := drain(t, owner)
	assert.Equal(t, "move_rejected", rejected["type"])

	accusationToOpponent := drain(t, opponent)
	assert.Equal(t, "chat_message", accusationToOpponent["type"])
	assert.Equal(t, SystemAuthor, accusationToOpponent["username"])

	h.unregisterConnection(owner)
	h.unregisterConnection(opponent)
}
