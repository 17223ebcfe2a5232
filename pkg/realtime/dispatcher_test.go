package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/chatstore"
	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

type dispatcherHarness struct {
	dispatcher *Dispatcher
	presence   *PresenceTracker
	typing     *TypingCoordinator
	store      *chatstore.MemoryStore
	rooms      *chatstore.RoomList

	mu         sync.Mutex
	sent       [][]byte
	activeRoom string
}

func newDispatcherHarness(t *testing.T, window time.Duration) *dispatcherHarness {
	t.Helper()
	h := &dispatcherHarness{
		presence:   NewPresenceTracker(1),
		store:      chatstore.NewMemoryStore(0),
		rooms:      chatstore.NewRoomList(),
		activeRoom: "r-1",
	}
	h.typing = NewTypingCoordinator(TypingConfig{LocalUserID: 1, LocalUserName: "Me"})
	h.typing.SetActiveRoom("r-1")
	h.presence.SetActiveRoom("r-1")
	h.dispatcher = NewDispatcher(DispatcherConfig{
		LocalUserID: 1,
		GuardWindow: window,
		ActiveRoom: func() string {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.activeRoom
		},
		Send: func(data []byte) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sent = append(h.sent, append([]byte(nil), data...))
			return nil
		},
		Presence: h.presence,
		Typing:   h.typing,
		Store:    h.store,
		Rooms:    h.rooms,
	})
	t.Cleanup(func() {
		h.dispatcher.Close()
		h.typing.Close()
	})
	return h
}

func (h *dispatcherHarness) sentFrames() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.sent...)
}

func chatFrame(id, roomID string, authorID int64, body string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":     protocol.KindChatMessage,
		"id":       id,
		"roomId":   roomID,
		"userId":   authorID,
		"userName": fmt.Sprintf("user-%d", authorID),
		"message":  body,
	})
	return b
}

func TestGuardDropsFrameInsideWindow(t *testing.T) {
	h := newDispatcherHarness(t, 80*time.Millisecond)

	require.True(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-1", 5, "first")))
	// Arrives inside the guard window: dropped, not queued.
	require.False(t, h.dispatcher.Dispatch(chatFrame("m-2", "r-1", 5, "second")))

	msgs, err := h.store.Messages(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m-1", msgs[0].ID)
}

func TestGuardAdmitsFrameAfterWindow(t *testing.T) {
	h := newDispatcherHarness(t, 20*time.Millisecond)

	require.True(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-1", 5, "first")))
	require.Eventually(t, func() bool {
		return h.dispatcher.Dispatch(chatFrame("m-2", "r-1", 5, "second"))
	}, time.Second, 5*time.Millisecond)

	msgs, err := h.store.Messages(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestRemoteMessageInActiveRoomIsStoredAndCounted(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	require.True(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-1", 5, "oi")))
	msgs, err := h.store.Messages(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 1, h.rooms.Unread("r-1"))
}

func TestLocalEchoIsNotStoredOrCounted(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	require.True(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-1", 1, "mine")))
	msgs, err := h.store.Messages(context.Background(), "r-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, 0, h.rooms.Unread("r-1"))
	// The preview still reflects the local message.
	sums := h.rooms.Summaries()
	require.Len(t, sums, 1)
	require.Equal(t, "mine", sums[0].Preview)
}

func TestMessageForOtherRoomUpdatesProjectionOnly(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	require.True(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-2", 5, "psst")))
	msgs, err := h.store.Messages(context.Background(), "r-2")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, 1, h.rooms.Unread("r-2"))
}

func TestNotificationAndPayloadCollapse(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	notif, _ := json.Marshal(map[string]any{
		"type": protocol.KindChatMessageNotification, "id": "m-1", "roomId": "r-1", "userId": 5, "message": "oi",
	})
	require.True(t, h.dispatcher.Dispatch(notif))
	time.Sleep(10 * time.Millisecond)
	require.True(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-1", 5, "oi")))

	msgs, err := h.store.Messages(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestHeartbeatIsAcknowledged(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	require.True(t, h.dispatcher.Dispatch([]byte(`{"type":"Heartbeat"}`)))
	frames := h.sentFrames()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), protocol.KindHeartbeatAck)
}

func TestPresenceAndTypingRouting(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	frames := [][]byte{
		[]byte(`{"type":"UserOnlineStatus","userId":5,"userName":"Eva","isOnline":true}`),
		[]byte(`{"type":"ChatOnlineUsers","roomId":"r-1","users":[{"userId":6,"userName":"Gil","status":"online"}]}`),
		[]byte(`{"type":"UserStatusUpdate","roomId":"r-1","userId":7,"userName":"Ivo","status":"away"}`),
		[]byte(`{"type":"UserTyping","roomId":"r-1","userId":6,"userName":"Gil","isTyping":true}`),
	}
	for _, f := range frames {
		require.Eventually(t, func() bool {
			return h.dispatcher.Dispatch(f)
		}, time.Second, 2*time.Millisecond)
	}

	require.True(t, h.presence.IsOnline(5))
	require.True(t, h.presence.IsOnline(6))
	u, ok := h.presence.User(7)
	require.True(t, ok)
	require.Equal(t, protocol.StatusAway, u.Status)

	typers := h.typing.TypingUsers()
	require.Len(t, typers, 1)
	require.Equal(t, "Gil", typers[0].UserName)
}

func TestUnknownAndMalformedFramesAreDropped(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)

	require.True(t, h.dispatcher.Dispatch([]byte(`{"type":"TotallyNew"}`)))
	time.Sleep(10 * time.Millisecond)
	require.True(t, h.dispatcher.Dispatch([]byte("### noise ###")))
	// Nothing crashed, nothing was stored.
	msgs, err := h.store.Messages(context.Background(), "r-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestConnectionAckCallback(t *testing.T) {
	var got string
	d := NewDispatcher(DispatcherConfig{
		LocalUserID:     1,
		GuardWindow:     time.Millisecond,
		OnConnectionAck: func(text string) { got = text },
	})
	defer d.Close()

	require.True(t, d.Dispatch([]byte("Connected to chat server")))
	require.Equal(t, "Connected to chat server", got)
}

func TestDispatchAfterCloseIsDropped(t *testing.T) {
	h := newDispatcherHarness(t, time.Millisecond)
	h.dispatcher.Close()
	require.False(t, h.dispatcher.Dispatch(chatFrame("m-1", "r-1", 5, "late")))
}
