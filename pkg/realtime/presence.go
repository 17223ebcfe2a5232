package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

// UserPresence is one user's presence record. Records are created on first
// mention of a user and only ever transitioned afterwards, never removed, so
// "last seen" stays renderable for any user the client has heard of.
type UserPresence struct {
	UserID       int64
	UserName     string
	Status       protocol.Status
	LastActivity time.Time
}

// PresenceTracker reconciles three independent status sources into one
// consistent map: global online/offline events, bulk room snapshots, and
// per-room status deltas. It is the sole writer of both the global map and
// the active-room view; everything else reads through copies.
type PresenceTracker struct {
	localUserID int64
	log         zerolog.Logger

	mu         sync.Mutex
	global     map[int64]*UserPresence
	activeRoom string
	room       map[int64]*UserPresence
}

func NewPresenceTracker(localUserID int64) *PresenceTracker {
	return &PresenceTracker{
		localUserID: localUserID,
		log:         log.With().Str("component", "presence").Logger(),
		global:      map[int64]*UserPresence{},
		room:        map[int64]*UserPresence{},
	}
}

// ApplyGlobalStatus handles a global online/offline event. Going offline
// carries the previous LastActivity forward unless the event supplies a
// fresher lastSeen; the timestamp never regresses.
func (p *PresenceTracker) ApplyGlobalStatus(userID int64, userName string, online bool, lastSeen time.Time) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u := p.ensureLocked(userID, userName)
	if online {
		u.Status = protocol.StatusOnline
		u.LastActivity = laterOf(u.LastActivity, time.Now())
	} else {
		u.Status = protocol.StatusOffline
		u.LastActivity = laterOf(u.LastActivity, lastSeen)
	}
	if ru, ok := p.room[userID]; ok {
		ru.Status = u.Status
		ru.LastActivity = u.LastActivity
	}
}

// ApplyRoomSnapshot merges a bulk "who is online in this room" snapshot.
// The global map is monotonic: a snapshot only adds or updates entries,
// absence from one room's snapshot never deletes a global record. The
// room-scoped view is replaced wholesale when the snapshot is for the
// active room.
func (p *PresenceTracker) ApplyRoomSnapshot(roomID string, users []protocol.RoomUser) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, ru := range users {
		u := p.ensureLocked(ru.UserID, ru.UserName)
		status := ru.Status
		if status == "" {
			status = protocol.StatusOnline
		}
		u.Status = status
		if status != protocol.StatusOffline {
			u.LastActivity = laterOf(u.LastActivity, now)
		}
	}

	if roomID != "" && roomID != p.activeRoom {
		p.log.Debug().Str("room_id", roomID).Msg("snapshot for inactive room, merged globals only")
		return
	}
	view := make(map[int64]*UserPresence, len(users))
	for _, ru := range users {
		global := p.global[ru.UserID]
		view[ru.UserID] = &UserPresence{
			UserID:       ru.UserID,
			UserName:     global.UserName,
			Status:       global.Status,
			LastActivity: global.LastActivity,
		}
	}
	p.room = view
}

// ApplyRoomStatusDelta handles a per-room status change for one user. The
// global map always updates; the room view updates only when the delta is
// for the active room (insert if absent, else patch in place).
func (p *PresenceTracker) ApplyRoomStatusDelta(roomID string, userID int64, status protocol.Status, userName string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u := p.ensureLocked(userID, userName)
	u.Status = status
	if status != protocol.StatusOffline {
		u.LastActivity = laterOf(u.LastActivity, time.Now())
	}

	if roomID != p.activeRoom {
		return
	}
	if ru, ok := p.room[userID]; ok {
		ru.Status = status
		if userName != "" {
			ru.UserName = userName
		}
		ru.LastActivity = u.LastActivity
	} else {
		p.room[userID] = &UserPresence{
			UserID:       userID,
			UserName:     u.UserName,
			Status:       status,
			LastActivity: u.LastActivity,
		}
	}
}

// SetActiveRoom clears the room-scoped view. The tracker does not guess
// presence for an unseen room; the caller must request a fresh snapshot
// from the backend.
func (p *PresenceTracker) SetActiveRoom(roomID string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRoom = roomID
	p.room = map[int64]*UserPresence{}
}

// IsOnline reports whether a user counts as online. Typing implies online.
func (p *PresenceTracker) IsOnline(userID int64) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.global[userID]
	if !ok {
		return false
	}
	return u.Status == protocol.StatusOnline || u.Status == protocol.StatusTyping
}

// OnlineCountInActiveRoom counts online users in the active room, excluding
// the local user.
func (p *PresenceTracker) OnlineCountInActiveRoom() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, u := range p.room {
		if id == p.localUserID {
			continue
		}
		if u.Status == protocol.StatusOnline || u.Status == protocol.StatusTyping {
			n++
		}
	}
	return n
}

// User returns a copy of a user's global presence record.
func (p *PresenceTracker) User(userID int64) (UserPresence, bool) {
	if p == nil {
		return UserPresence{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.global[userID]
	if !ok {
		return UserPresence{}, false
	}
	return *u, true
}

// RoomView returns a copy of the active room's presence entries, ordered by
// user name for stable rendering.
func (p *PresenceTracker) RoomView() []UserPresence {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]UserPresence, 0, len(p.room))
	for _, u := range p.room {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (p *PresenceTracker) ensureLocked(userID int64, userName string) *UserPresence {
	u, ok := p.global[userID]
	if !ok {
		u = &UserPresence{UserID: userID, Status: protocol.StatusOffline}
		p.global[userID] = u
	}
	if userName != "" {
		u.UserName = userName
	}
	return u
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
