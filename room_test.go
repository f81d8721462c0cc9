package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiangqi-server/rules"
)

func TestAddMemberCapacityDowngrade(t *testing.T) {
	r := NewRoom("ROOM0001", "g", "", "alice", 200)

	role := r.AddMember("c1", "alice", RolePlayer)
	assert.Equal(t, RolePlayer, role)

	role = r.AddMember("c2", "bob", RolePlayer)
	assert.Equal(t, RolePlayer, role)

	role = r.AddMember("c3", "carol", RolePlayer)
	assert.Equal(t, RoleSpectator, role, "a third player request must be silently downgraded")

	players, spectators := r.Counts()
	assert.Equal(t, 2, players)
	assert.Equal(t, 1, spectators)
}

func TestColorAssignmentByJoinOrder(t *testing.T) {
	r := NewRoom("ROOM0003", "g", "", "alice", 200)
	r.AddMember("c1", "alice", RolePlayer)
	r.AddMember("c2", "bob", RolePlayer)

	color, ok := r.ColorFor("c1")
	require.True(t, ok)
	assert.Equal(t, rules.Red, color)

	color, ok = r.ColorFor("c2")
	require.True(t, ok)
	assert.Equal(t, rules.Black, color)

	_, ok = r.ColorFor("c-spectator")
	assert.False(t, ok)
}

func TestChatLogCap(t *testing.T) {
	r := NewRoom("ROOM0004", "g", "", "alice", 3)
	for i := 0; i < 5; i++ {
		r.AppendChat("alice", "hello")
	}
	assert.Len(t, r.ChatLog, 3)
}

func TestCanStartGameRequiresOwnerAsSeatedPlayer(t *testing.T) {
	r := NewRoom("ROOM0005", "g", "", "alice", 200)
	r.AddMember("owner-conn", "alice", RoleSpectator)
	r.OwnerConnectionId = "owner-conn"
	r.AddMember("c2", "bob", RolePlayer)

	assert.False(t, r.CanStartGame("owner-conn"), "an owner seated as spectator cannot start the game")

	r.SetRole("owner-conn", RolePlayer)
	r.AddMember("c3", "carol", RolePlayer)
	assert.True(t, r.CanStartGame("owner-conn"))
}

func TestValidateAndApplyMoveIsAtomic(t *testing.T) {
	r := NewRoom("ROOM0006", "g", "", "alice", 200)
	ok, reason := r.ValidateAndApplyMove(rules.Move{FromRow: 2, FromCol: 1, ToRow: 2, ToCol: 4}, rules.Red)
	require.True(t, ok, reason)
	assert.Equal(t, rules.Black, r.Game.CurrentPlayer)

	ok, reason = r.ValidateAndApplyMove(rules.Move{FromRow: 0, FromCol: 0, ToRow: 5, ToCol: 5}, rules.Black)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
	assert.Equal(t, rules.Black, r.Game.CurrentPlayer, "a rejected move must not toggle the turn")
}
