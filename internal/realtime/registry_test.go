package realtime

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-schedule/internal/models"
)

func newTestRegistry(buffer int) *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, buffer)
}

func TestConnectJoinsCumulativeRoleRooms(t *testing.T) {
	r := newTestRegistry(4)

	tests := []struct {
		role models.Role
		want []string
	}{
		{models.RoleAdmin, []string{"admin", "client", "trainer", "user", "user:u-admin"}},
		{models.RoleTrainer, []string{"client", "trainer", "user:u-trainer"}},
		{models.RoleClient, []string{"client", "user", "user:u-client"}},
		{models.RoleUser, []string{"user", "user:u-user"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			c := r.Connect("u-"+string(tt.role), tt.role)
			assert.Equal(t, tt.want, r.RoomsOf(c.ID))
		})
	}
}

func TestDeliverUnionOnce(t *testing.T) {
	r := newTestRegistry(4)

	admin := r.Connect("a1", models.RoleAdmin)
	trainer := r.Connect("t1", models.RoleTrainer)
	other := r.Connect("u9", models.RoleUser)

	require.NoError(t, r.JoinRoom(trainer.ID, models.SessionRoom("s1")))

	n := r.Deliver(models.Push{
		Rooms:   []string{"user:t1", "admin", "session:s1", "trainer"},
		Payload: []byte("hello"),
	})
	assert.Equal(t, 2, n)

	assert.Len(t, admin.Send(), 1)
	assert.Len(t, trainer.Send(), 1)
	assert.Len(t, other.Send(), 0)

	assert.Equal(t, 2, r.Broadcast("user", []byte("all")), "trainers are not in the user room")
}

func TestLeaveAndDisconnectPruneRooms(t *testing.T) {
	r := newTestRegistry(4)

	c := r.Connect("c1", models.RoleClient)
	require.NoError(t, r.JoinRoom(c.ID, "session:s1"))
	assert.Equal(t, []string{c.ID}, r.Members("session:s1"))

	require.NoError(t, r.LeaveRoom(c.ID, "session:s1"))
	assert.Empty(t, r.Members("session:s1"))
	assert.Equal(t, 3, r.Stats().Rooms)

	r.Disconnect(c.ID)
	assert.Equal(t, Stats{}, r.Stats())

	_, open := <-c.Send()
	assert.False(t, open)

	assert.ErrorIs(t, r.JoinRoom(c.ID, "session:s1"), ErrUnknownConnection)
	assert.ErrorIs(t, r.LeaveRoom(c.ID, "session:s1"), ErrUnknownConnection)
	assert.NotPanics(t, func() { r.Disconnect(c.ID) })
}

func TestGuardedSessionRoom(t *testing.T) {
	r := newTestRegistry(4)

	owner := r.Connect("c1", models.RoleClient)
	other := r.Connect("c2", models.RoleClient)
	visitor := r.Connect("u9", models.RoleUser)
	trainer := r.Connect("t1", models.RoleTrainer)
	admin := r.Connect("a1", models.RoleAdmin)

	for _, c := range []*Client{owner, other, visitor, trainer, admin} {
		require.NoError(t, r.JoinRoom(c.ID, "session:s1"))
	}

	booked := models.Push{
		Rooms:   []string{"user:c1", "user:t1", "admin", "session:s1"},
		Payload: []byte(`{"type":"session_booked"}`),
		Guards: []models.Visibility{{
			SessionID: "s1",
			Status:    models.SessionScheduled,
			ClientID:  "c1",
			TrainerID: "t1",
		}},
	}

	assert.Equal(t, 3, r.Deliver(booked))
	assert.Len(t, owner.Send(), 1)
	assert.Len(t, trainer.Send(), 1)
	assert.Len(t, admin.Send(), 1)
	assert.Len(t, other.Send(), 0)
	assert.Len(t, visitor.Send(), 0)

	// Non-parties leave the room, so later frames cannot reach them either.
	assert.Len(t, r.Members("session:s1"), 3)
	assert.NotContains(t, r.RoomsOf(other.ID), "session:s1")
	assert.NotContains(t, r.RoomsOf(visitor.ID), "session:s1")

	assert.Equal(t, 3, r.Broadcast("session:s1", []byte(`{"type":"session_confirmed"}`)))
	assert.Len(t, other.Send(), 0)
	assert.Len(t, visitor.Send(), 0)
}

func TestGuardAllowsOpenSlots(t *testing.T) {
	r := newTestRegistry(4)

	visitor := r.Connect("u9", models.RoleUser)
	require.NoError(t, r.JoinRoom(visitor.ID, "session:s1"))

	n := r.Deliver(models.Push{
		Rooms:   []string{"session:s1"},
		Payload: []byte("open"),
		Guards:  []models.Visibility{{SessionID: "s1", Status: models.SessionAvailable}},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{visitor.ID}, r.Members("session:s1"))
}

func TestSlowConnectionIsEvicted(t *testing.T) {
	r := newTestRegistry(1)

	slow := r.Connect("c1", models.RoleClient)
	fast := r.Connect("c2", models.RoleClient)

	assert.Equal(t, 2, r.Broadcast("client", []byte("one")))
	<-fast.Send()

	assert.Equal(t, 1, r.Broadcast("client", []byte("two")))

	stats := r.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, uint64(3), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Nil(t, r.RoomsOf(slow.ID))

	// The buffered frame is still readable before the close.
	msg, ok := <-slow.Send()
	assert.True(t, ok)
	assert.Equal(t, "one", string(msg))
	_, ok = <-slow.Send()
	assert.False(t, ok)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := newTestRegistry(4)
	b := newTestRegistry(4)

	a.Connect("u1", models.RoleUser)
	a.Broadcast("user", []byte("x"))

	assert.Equal(t, 1, a.Stats().Connections)
	assert.Equal(t, Stats{}, b.Stats())
}
