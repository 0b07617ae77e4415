package hub

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-hub/internal/models"
)

func alice() models.Identity { return models.Identity{UserID: 1, Username: "alice"} }
func bob() models.Identity   { return models.Identity{UserID: 2, Username: "bob"} }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))
	err := r.Register("k1", alice(), &fakeSink{})
	assert.ErrorIs(t, err, ErrDuplicateConnection)

	require.NoError(t, r.Register("k2", alice(), &fakeSink{}))
	assert.Equal(t, 2, r.CountOf(1))
	assert.Equal(t, 2, r.Len())

	identity, ok := r.Lookup("k2")
	require.True(t, ok)
	assert.Equal(t, "alice", identity.Username)
}

func TestRegistryUnregisterRemovesMemberships(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))
	require.NoError(t, r.Join("k1", 10))
	require.NoError(t, r.Join("k1", 11))

	departure, err := r.Unregister("k1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ConversationID{10, 11}, departure.Rooms)
	assert.Equal(t, models.UserID(1), departure.Identity.UserID)

	assert.Empty(t, r.MembersOf(10))
	assert.Empty(t, r.MembersOf(11))
	assert.Equal(t, 0, r.RoomCount())
	assert.Equal(t, 0, r.CountOf(1))

	_, err = r.Unregister("k1")
	assert.ErrorIs(t, err, ErrNotFound)
	assertConsistent(t, r)
}

func TestRegistryConnectionsOfIsRestartable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))
	require.NoError(t, r.Register("k2", alice(), &fakeSink{}))
	require.NoError(t, r.Register("k3", bob(), &fakeSink{}))

	seq := r.ConnectionsOf(1)
	first := slices.Collect(seq)
	assert.ElementsMatch(t, []ConnID{"k1", "k2"}, first)

	_, err := r.Unregister("k1")
	require.NoError(t, err)
	assert.Equal(t, []ConnID{"k2"}, slices.Collect(seq))

	for range seq {
		break
	}
	assert.Empty(t, slices.Collect(r.ConnectionsOf(99)))
}

func TestRoomsJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))

	require.NoError(t, r.Join("k1", 10))
	require.NoError(t, r.Join("k1", 10))

	assert.Equal(t, []ConnID{"k1"}, r.MembersOf(10))
	assert.Equal(t, []models.ConversationID{10}, r.RoomsOf("k1"))
	assertConsistent(t, r)
}

func TestRoomsLeaveNonMemberIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))
	require.NoError(t, r.Register("k2", bob(), &fakeSink{}))
	require.NoError(t, r.Join("k2", 10))

	require.NoError(t, r.Leave("k1", 10))
	require.NoError(t, r.Leave("k1", 99))

	assert.Equal(t, []ConnID{"k2"}, r.MembersOf(10))
	assertConsistent(t, r)
}

func TestRoomsRequireRegisteredConnection(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Join("ghost", 10), ErrUnknownConnection)
	assert.ErrorIs(t, r.Leave("ghost", 10), ErrUnknownConnection)
	_, err := r.LeaveAll("ghost")
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.Empty(t, r.MembersOf(10))
}

func TestRoomsLeaveAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))
	require.NoError(t, r.Register("k2", bob(), &fakeSink{}))
	for _, c := range []models.ConversationID{10, 11, 12} {
		require.NoError(t, r.Join("k1", c))
	}
	require.NoError(t, r.Join("k2", 11))

	rooms, err := r.LeaveAll("k1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ConversationID{10, 11, 12}, rooms)
	assert.Empty(t, r.RoomsOf("k1"))
	assert.Equal(t, []ConnID{"k2"}, r.MembersOf(11))
	assert.Equal(t, 1, r.RoomCount())
	assertConsistent(t, r)
}

func TestRoomsJoinUser(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k1", alice(), &fakeSink{}))
	require.NoError(t, r.Register("k2", alice(), &fakeSink{}))
	require.NoError(t, r.Register("k3", bob(), &fakeSink{}))

	assert.Equal(t, 2, r.JoinUser(1, 20))
	assert.ElementsMatch(t, []ConnID{"k1", "k2"}, r.MembersOf(20))
	assert.Equal(t, 0, r.JoinUser(42, 20))
	assertConsistent(t, r)
}

func TestRoomSinksExcludesSender(t *testing.T) {
	r := NewRegistry()
	s1, s2 := &fakeSink{}, &fakeSink{}
	require.NoError(t, r.Register("k1", alice(), s1))
	require.NoError(t, r.Register("k2", bob(), s2))
	require.NoError(t, r.Join("k1", 10))
	require.NoError(t, r.Join("k2", 10))

	sinks := r.roomSinks(10, "k1")
	require.Len(t, sinks, 1)
	assert.Same(t, s2, sinks[0])
}

// Random join/leave/leaveAll/unregister from many goroutines must never
// break the bidirectional membership relation.
func TestRegistryInvariantUnderConcurrency(t *testing.T) {
	r := NewRegistry()
	const (
		workers = 16
		ops     = 400
		conns   = 24
		rooms   = 6
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < ops; i++ {
				id := ConnID(fmt.Sprintf("k%d", rng.Intn(conns)))
				room := models.ConversationID(rng.Intn(rooms))
				switch rng.Intn(6) {
				case 0:
					_ = r.Register(id, models.Identity{UserID: models.UserID(rng.Intn(4))}, &fakeSink{})
				case 1:
					_, _ = r.Unregister(id)
				case 2, 3:
					_ = r.Join(id, room)
				case 4:
					_ = r.Leave(id, room)
				case 5:
					_, _ = r.LeaveAll(id)
				}
				_ = r.MembersOf(room)
			}
		}(int64(w))
	}
	wg.Wait()

	assertConsistent(t, r)
}
