package chatstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendDeduplicates(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	fresh, err := s.Append(ctx, Message{ID: "m-1", RoomID: "r-1", Body: "first"})
	require.NoError(t, err)
	require.True(t, fresh)

	// The notification and the authoritative payload share an id.
	fresh, err = s.Append(ctx, Message{ID: "m-1", RoomID: "r-1", Body: "first again"})
	require.NoError(t, err)
	require.False(t, fresh)

	msgs, err := s.Messages(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "first", msgs[0].Body)
}

func TestMemoryStoreOrdering(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now()

	_, err := s.Append(ctx, Message{ID: "m-2", RoomID: "r-1", SentAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = s.Append(ctx, Message{ID: "m-1", RoomID: "r-1", SentAt: base})
	require.NoError(t, err)

	msgs, err := s.Messages(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, []string{"m-1", "m-2"}, []string{msgs[0].ID, msgs[1].ID})

	last, ok, err := s.LastMessage(ctx, "r-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m-2", last.ID)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"m-1", "m-2", "m-3"} {
		_, err := s.Append(ctx, Message{ID: id, RoomID: "r-1", SentAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	msgs, err := s.Messages(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m-2", msgs[0].ID)

	// An evicted id may legitimately come back (history refetch).
	fresh, err := s.Append(ctx, Message{ID: "m-1", RoomID: "r-1", SentAt: base})
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestMemoryStoreValidation(t *testing.T) {
	s := NewMemoryStore(0)
	_, err := s.Append(context.Background(), Message{RoomID: "r-1"})
	require.Error(t, err)
	_, err = s.Append(context.Background(), Message{ID: "m-1"})
	require.Error(t, err)
}

func TestRoomListUnread(t *testing.T) {
	l := NewRoomList()
	now := time.Now()

	l.Touch("r-1", "hello", now, false)
	l.Touch("r-1", "again", now.Add(time.Second), false)
	require.Equal(t, 2, l.Unread("r-1"))

	// Local echoes update the preview without counting as unread.
	l.Touch("r-1", "mine", now.Add(2*time.Second), true)
	require.Equal(t, 2, l.Unread("r-1"))

	l.MarkRead("r-1")
	require.Equal(t, 0, l.Unread("r-1"))

	l.Touch("r-2", "other", now.Add(3*time.Second), false)
	sums := l.Summaries()
	require.Len(t, sums, 2)
	require.Equal(t, "r-2", sums[0].RoomID)
	require.Equal(t, "mine", sums[1].Preview)
}
