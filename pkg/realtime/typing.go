package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

// TypingEntry flags one remote user as typing in one room. The map it lives
// in is keyed by user id, so a user holds at most one entry system-wide and
// the latest room wins.
type TypingEntry struct {
	UserID   int64
	UserName string
	RoomID   string
}

// TypingCoordinator converts local keystrokes into debounced start/stop
// signals and tracks which remote users are typing. Typing signals are
// best-effort: a failed send is logged, never retried, and heals through
// the idle timeout on the other side.
type TypingCoordinator struct {
	localUserID   int64
	localUserName string
	idleTimeout   time.Duration
	send          func([]byte) error
	log           zerolog.Logger

	mu          sync.Mutex
	activeRoom  string
	localTyping bool
	idleTimer   *time.Timer
	remote      map[int64]TypingEntry
	closed      bool
}

// TypingConfig configures the coordinator. Send goes through the chat feed.
type TypingConfig struct {
	LocalUserID   int64
	LocalUserName string
	// IdleTimeout is how long after the last keystroke the local Typing
	// state falls back to Idle. Defaults to 3s.
	IdleTimeout time.Duration
	Send        func(data []byte) error
}

func NewTypingCoordinator(cfg TypingConfig) *TypingCoordinator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 3 * time.Second
	}
	if cfg.Send == nil {
		cfg.Send = func([]byte) error { return nil }
	}
	return &TypingCoordinator{
		localUserID:   cfg.LocalUserID,
		localUserName: cfg.LocalUserName,
		idleTimeout:   cfg.IdleTimeout,
		send:          cfg.Send,
		log:           log.With().Str("component", "typing").Logger(),
	}
}

// Keystroke records local input. Only a genuine Idle→Typing edge emits the
// start signal; further keystrokes just push the idle timer out.
func (c *TypingCoordinator) Keystroke() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.activeRoom == "" {
		return
	}
	if !c.localTyping {
		c.localTyping = true
		c.emitLocked(c.activeRoom, true)
	}
	c.resetIdleTimerLocked()
}

// MessageSent stops the local typing state immediately, bypassing the idle
// timer: sending a message is an explicit "stop typing now".
func (c *TypingCoordinator) MessageSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocalLocked(c.activeRoom)
}

// SetActiveRoom switches rooms. A pending Typing state for the previous room
// sends its stop signal exactly once before being discarded, and remote
// entries for other rooms are pruned.
func (c *TypingCoordinator) SetActiveRoom(roomID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if roomID == c.activeRoom {
		return
	}
	c.stopLocalLocked(c.activeRoom)
	c.activeRoom = roomID
	if c.remote == nil {
		return
	}
	for id, entry := range c.remote {
		if entry.RoomID != roomID {
			delete(c.remote, id)
		}
	}
}

// ApplyRemote upserts or deletes a remote user's typing entry from an
// inbound is-typing signal. Entries expire only through an explicit stop
// from the peer; a peer that disconnects mid-typing is corrected by the
// next presence refresh, not by a local timer.
func (c *TypingCoordinator) ApplyRemote(sig protocol.UserTyping) {
	if c == nil || sig.UserID == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sig.UserID == c.localUserID {
		return
	}
	if c.remote == nil {
		c.remote = map[int64]TypingEntry{}
	}
	if sig.IsTyping {
		c.remote[sig.UserID] = TypingEntry{UserID: sig.UserID, UserName: sig.UserName, RoomID: sig.RoomID}
	} else {
		delete(c.remote, sig.UserID)
	}
}

// TypingUsers lists remote users typing in the active room, name-ordered.
func (c *TypingCoordinator) TypingUsers() []TypingEntry {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []TypingEntry
	for _, entry := range c.remote {
		if entry.RoomID == c.activeRoom {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out
}

// IsLocalTyping reports the local state machine's current state.
func (c *TypingCoordinator) IsLocalTyping() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localTyping
}

// Close cancels the idle timer. No stop signal is sent; the session to which
// it would apply is going away with the owning engine.
func (c *TypingCoordinator) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelIdleTimerLocked()
}

func (c *TypingCoordinator) resetIdleTimerLocked() {
	c.cancelIdleTimerLocked()
	c.idleTimer = time.AfterFunc(c.idleTimeout, c.idleExpired)
}

func (c *TypingCoordinator) cancelIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *TypingCoordinator) idleExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.idleTimer = nil
	c.stopLocalLocked(c.activeRoom)
}

// stopLocalLocked emits the stop signal for roomID if the local user is
// mid-Typing, and always returns the machine to Idle.
func (c *TypingCoordinator) stopLocalLocked(roomID string) {
	if !c.localTyping {
		return
	}
	c.localTyping = false
	c.cancelIdleTimerLocked()
	if roomID != "" {
		c.emitLocked(roomID, false)
	}
}

func (c *TypingCoordinator) emitLocked(roomID string, typing bool) {
	payload := protocol.EncodeTyping(roomID, c.localUserID, c.localUserName, typing)
	if err := c.send(payload); err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Bool("typing", typing).Msg("typing signal send failed")
	}
}
