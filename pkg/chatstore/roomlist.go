package chatstore

import (
	"sort"
	"sync"
	"time"
)

// RoomSummary is the room list projection the UI renders: last message
// preview, its timestamp, and how many messages arrived unread.
type RoomSummary struct {
	RoomID  string
	Preview string
	LastAt  time.Time
	Unread  int
}

// RoomList maintains the per-room preview/unread projection. It is mutated
// only through Touch and MarkRead; readers get copies.
type RoomList struct {
	mu    sync.Mutex
	rooms map[string]*RoomSummary
}

func NewRoomList() *RoomList {
	return &RoomList{rooms: map[string]*RoomSummary{}}
}

// Touch records a new message for a room. Unread increments only for
// messages not authored by the local user.
func (l *RoomList) Touch(roomID, preview string, at time.Time, fromLocal bool) {
	if l == nil || roomID == "" {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	room := l.rooms[roomID]
	if room == nil {
		room = &RoomSummary{RoomID: roomID}
		l.rooms[roomID] = room
	}
	room.Preview = preview
	room.LastAt = at
	if !fromLocal {
		room.Unread++
	}
}

// MarkRead clears the unread counter, typically when the room becomes active.
func (l *RoomList) MarkRead(roomID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if room := l.rooms[roomID]; room != nil {
		room.Unread = 0
	}
}

// Unread returns the unread counter for a room.
func (l *RoomList) Unread(roomID string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if room := l.rooms[roomID]; room != nil {
		return room.Unread
	}
	return 0
}

// Summaries returns all rooms ordered by most recent activity.
func (l *RoomList) Summaries() []RoomSummary {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RoomSummary, 0, len(l.rooms))
	for _, room := range l.rooms {
		out = append(out, *room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAt.After(out[j].LastAt) })
	return out
}
