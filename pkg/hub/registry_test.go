package hub

import (
	"sync"
	"testing"

	"commhub/pkg/config"
	"commhub/pkg/faults"
	"commhub/pkg/models"
	"commhub/pkg/store"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func newThread(t *testing.T, id string, participants ...string) {
	t.Helper()
	require.NoError(t, store.CreateThread(&models.Thread{ID: id, Participants: participants}))
}

func testSession(user string) *Session {
	return NewSession(nil, user, config.RealtimeConfig{})
}

func TestJoinRejectsNonParticipant(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	reg := NewRegistry()

	s := testSession("mallory")
	reg.Register(s)
	err := reg.Join(s, "t1")
	require.ErrorIs(t, err, faults.ErrAuthorization)
	// the rejection leaves no registry entry behind
	require.Zero(t, reg.RoomSize("t1"))
}

func TestJoinUnknownThread(t *testing.T) {
	openStore(t)
	reg := NewRegistry()
	s := testSession("alice")
	reg.Register(s)
	require.ErrorIs(t, reg.Join(s, "missing"), faults.ErrNotFound)
}

func TestJoinLeaveResolve(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	reg := NewRegistry()

	a := testSession("alice")
	b := testSession("bob")
	reg.Register(a)
	reg.Register(b)
	require.NoError(t, reg.Join(a, "t1"))
	require.NoError(t, reg.Join(b, "t1"))
	require.Equal(t, 2, reg.RoomSize("t1"))
	require.Len(t, reg.Resolve("t1"), 2)

	reg.Leave(a, "t1")
	require.Equal(t, 1, reg.RoomSize("t1"))

	// an empty room is normal, not an error
	reg.Leave(b, "t1")
	require.Zero(t, reg.RoomSize("t1"))
	require.Empty(t, reg.Resolve("t1"))
}

func TestPersonalChannelTracksAllSessions(t *testing.T) {
	openStore(t)
	reg := NewRegistry()

	tab1 := testSession("alice")
	tab2 := testSession("alice")
	reg.Register(tab1)
	reg.Register(tab2)
	require.Len(t, reg.Personal("alice"), 2)

	reg.Drop(tab1)
	require.Len(t, reg.Personal("alice"), 1)
	reg.Drop(tab2)
	require.Empty(t, reg.Personal("alice"))
}

func TestDropRemovesFromAllRooms(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	newThread(t, "t2", "alice", "bob")
	reg := NewRegistry()

	s := testSession("alice")
	reg.Register(s)
	require.NoError(t, reg.Join(s, "t1"))
	require.NoError(t, reg.Join(s, "t2"))

	reg.Drop(s)
	require.Zero(t, reg.RoomSize("t1"))
	require.Zero(t, reg.RoomSize("t2"))
	require.Empty(t, reg.Personal("alice"))
}

func TestJoinRetriesRoomDroppedUnderneath(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	reg := NewRegistry()

	// a join can fetch the room object just before the last member
	// leaves and the empty room is removed from the registry; that
	// object must never accept the session
	stale := reg.roomFor("t1", true)
	reg.dropRoomIfEmpty("t1")
	stale.mu.RLock()
	dead := stale.dead
	stale.mu.RUnlock()
	require.True(t, dead)

	s := testSession("alice")
	reg.Register(s)
	require.NoError(t, reg.Join(s, "t1"))
	require.Len(t, reg.Resolve("t1"), 1)

	stale.mu.RLock()
	require.Empty(t, stale.members)
	stale.mu.RUnlock()
}

func TestJoinLeaveChurnNeverOrphansMembers(t *testing.T) {
	openStore(t)
	newThread(t, "t1", "alice", "bob")
	reg := NewRegistry()

	churner := testSession("bob")
	reg.Register(churner)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := reg.Join(churner, "t1"); err != nil {
				t.Errorf("churn join: %v", err)
				return
			}
			reg.Leave(churner, "t1")
		}
	}()

	s := testSession("alice")
	reg.Register(s)
	for i := 0; i < 500; i++ {
		require.NoError(t, reg.Join(s, "t1"))
		found := false
		for _, member := range reg.Resolve("t1") {
			if member == s {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("joined session missing from room on iteration %d", i)
		}
		reg.Leave(s, "t1")
	}
	close(stop)
	wg.Wait()
}
