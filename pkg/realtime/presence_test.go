package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

func TestGlobalStatusNeverRegressesLastActivity(t *testing.T) {
	p := NewPresenceTracker(1)

	p.ApplyGlobalStatus(5, "Eva", true, time.Time{})
	u, ok := p.User(5)
	require.True(t, ok)
	seen := u.LastActivity
	require.False(t, seen.IsZero())

	// A stale lastSeen must not win over the recorded activity.
	p.ApplyGlobalStatus(5, "Eva", false, seen.Add(-time.Hour))
	u, _ = p.User(5)
	require.Equal(t, protocol.StatusOffline, u.Status)
	require.Equal(t, seen, u.LastActivity)

	// A fresher lastSeen does.
	fresher := seen.Add(time.Hour)
	p.ApplyGlobalStatus(5, "Eva", false, fresher)
	u, _ = p.User(5)
	require.Equal(t, fresher, u.LastActivity)
}

func TestOfflineCarriesLastActivityForward(t *testing.T) {
	p := NewPresenceTracker(1)
	p.ApplyGlobalStatus(5, "Eva", true, time.Time{})
	u, _ := p.User(5)
	seen := u.LastActivity

	p.ApplyGlobalStatus(5, "", false, time.Time{})
	u, _ = p.User(5)
	require.Equal(t, protocol.StatusOffline, u.Status)
	require.Equal(t, seen, u.LastActivity)
	require.Equal(t, "Eva", u.UserName)
}

func TestRoomSnapshotRevivesOfflineUser(t *testing.T) {
	p := NewPresenceTracker(1)
	p.SetActiveRoom("r-1")

	t0 := time.Now().Add(-time.Hour)
	p.ApplyGlobalStatus(5, "Eva", false, t0)

	p.ApplyRoomSnapshot("r-1", []protocol.RoomUser{{UserID: 5, UserName: "Eva", Status: protocol.StatusOnline}})
	u, ok := p.User(5)
	require.True(t, ok)
	require.Equal(t, protocol.StatusOnline, u.Status)
	require.True(t, u.LastActivity.After(t0))
	require.True(t, p.IsOnline(5))
}

func TestRoomSnapshotReplacesViewButNotGlobals(t *testing.T) {
	p := NewPresenceTracker(1)
	p.SetActiveRoom("r-1")

	p.ApplyGlobalStatus(5, "Eva", true, time.Time{})
	p.ApplyGlobalStatus(6, "Gil", true, time.Time{})
	p.ApplyRoomSnapshot("r-1", []protocol.RoomUser{
		{UserID: 5, UserName: "Eva", Status: protocol.StatusOnline},
		{UserID: 6, UserName: "Gil", Status: protocol.StatusOnline},
	})
	require.Len(t, p.RoomView(), 2)

	// Gil is absent from the next snapshot: gone from the view, kept globally.
	p.ApplyRoomSnapshot("r-1", []protocol.RoomUser{{UserID: 5, UserName: "Eva", Status: protocol.StatusOnline}})
	require.Len(t, p.RoomView(), 1)
	_, ok := p.User(6)
	require.True(t, ok)
	require.True(t, p.IsOnline(6))
}

func TestSnapshotForInactiveRoomOnlyMergesGlobals(t *testing.T) {
	p := NewPresenceTracker(1)
	p.SetActiveRoom("r-1")

	p.ApplyRoomSnapshot("r-2", []protocol.RoomUser{{UserID: 7, UserName: "Hugo", Status: protocol.StatusOnline}})
	require.Empty(t, p.RoomView())
	require.True(t, p.IsOnline(7))
}

func TestRoomStatusDeltaUpsertsIntoActiveView(t *testing.T) {
	p := NewPresenceTracker(1)
	p.SetActiveRoom("r-1")

	// Insert when absent.
	p.ApplyRoomStatusDelta("r-1", 5, protocol.StatusAway, "Eva")
	view := p.RoomView()
	require.Len(t, view, 1)
	require.Equal(t, protocol.StatusAway, view[0].Status)

	// Patch in place.
	p.ApplyRoomStatusDelta("r-1", 5, protocol.StatusTyping, "Eva Maria")
	view = p.RoomView()
	require.Len(t, view, 1)
	require.Equal(t, protocol.StatusTyping, view[0].Status)
	require.Equal(t, "Eva Maria", view[0].UserName)

	// Deltas for other rooms touch globals only.
	p.ApplyRoomStatusDelta("r-2", 6, protocol.StatusOnline, "Gil")
	require.Len(t, p.RoomView(), 1)
	require.True(t, p.IsOnline(6))
}

func TestIsOnlineCountsTyping(t *testing.T) {
	p := NewPresenceTracker(1)
	p.ApplyRoomStatusDelta("", 5, protocol.StatusTyping, "Eva")
	require.True(t, p.IsOnline(5))
	p.ApplyRoomStatusDelta("", 5, protocol.StatusAway, "Eva")
	require.False(t, p.IsOnline(5))
	require.False(t, p.IsOnline(404))
}

func TestOnlineCountExcludesLocalUser(t *testing.T) {
	p := NewPresenceTracker(1)
	p.SetActiveRoom("r-1")
	p.ApplyRoomSnapshot("r-1", []protocol.RoomUser{
		{UserID: 1, UserName: "Me", Status: protocol.StatusOnline},
		{UserID: 5, UserName: "Eva", Status: protocol.StatusOnline},
		{UserID: 6, UserName: "Gil", Status: protocol.StatusAway},
	})
	require.Equal(t, 1, p.OnlineCountInActiveRoom())
}

func TestSetActiveRoomClearsView(t *testing.T) {
	p := NewPresenceTracker(1)
	p.SetActiveRoom("r-1")
	p.ApplyRoomStatusDelta("r-1", 5, protocol.StatusOnline, "Eva")
	require.Len(t, p.RoomView(), 1)

	p.SetActiveRoom("r-2")
	require.Empty(t, p.RoomView())
	// Global record survives the switch.
	_, ok := p.User(5)
	require.True(t, ok)
}
