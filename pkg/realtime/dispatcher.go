package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/chatstore"
	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

// DispatcherConfig wires the inbound chat feed dispatcher to the state
// owners it routes into.
type DispatcherConfig struct {
	LocalUserID int64
	// GuardWindow is how long after a dispatch completes before the next
	// frame is admitted. Defaults to 100ms. Frames arriving inside the
	// window are dropped, not queued; this collapses bursts of duplicate
	// notifications at the documented cost of occasionally losing a
	// legitimately distinct frame.
	GuardWindow time.Duration
	// ActiveRoom reports the room currently open in the UI.
	ActiveRoom func() string
	// Send writes a frame back out on the chat feed (heartbeat acks).
	Send     func(data []byte) error
	Presence *PresenceTracker
	Typing   *TypingCoordinator
	Store    chatstore.MessageStore
	Rooms    *chatstore.RoomList
	// OnConnectionAck observes the legacy connection confirmation.
	OnConnectionAck func(text string)
	// OnRoomChanged fires after the message store or room projection
	// changed for a room.
	OnRoomChanged func(roomID string)
}

// Dispatcher classifies every inbound chat feed frame and routes it to
// exactly one handler. At most one dispatch is in flight at a time; the
// single-slot guard stays occupied for GuardWindow after completion.
type Dispatcher struct {
	localUserID int64
	guardWindow time.Duration
	activeRoom  func() string
	send        func([]byte) error
	presence    *PresenceTracker
	typing      *TypingCoordinator
	store       chatstore.MessageStore
	rooms       *chatstore.RoomList
	onAck       func(string)
	onRoom      func(string)
	log         zerolog.Logger

	mu         sync.Mutex
	inFlight   bool
	clearTimer *time.Timer
	closed     bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.GuardWindow <= 0 {
		cfg.GuardWindow = 100 * time.Millisecond
	}
	if cfg.ActiveRoom == nil {
		cfg.ActiveRoom = func() string { return "" }
	}
	if cfg.Send == nil {
		cfg.Send = func([]byte) error { return nil }
	}
	return &Dispatcher{
		localUserID: cfg.LocalUserID,
		guardWindow: cfg.GuardWindow,
		activeRoom:  cfg.ActiveRoom,
		send:        cfg.Send,
		presence:    cfg.Presence,
		typing:      cfg.Typing,
		store:       cfg.Store,
		rooms:       cfg.Rooms,
		onAck:       cfg.OnConnectionAck,
		onRoom:      cfg.OnRoomChanged,
		log:         log.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch processes one raw frame. It reports false when the frame was
// dropped by the reentrancy guard.
func (d *Dispatcher) Dispatch(raw []byte) bool {
	if d == nil {
		return false
	}
	if !d.acquire() {
		d.log.Debug().Int("bytes", len(raw)).Msg("dispatch guard occupied, dropping frame")
		return false
	}
	defer d.release()

	switch m := protocol.Decode(raw).(type) {
	case protocol.ChatMessage:
		d.handleChatMessage(m)
	case protocol.UserOnlineStatus:
		d.presence.ApplyGlobalStatus(m.UserID, m.UserName, m.IsOnline, m.LastSeen())
	case protocol.ChatOnlineUsers:
		d.presence.ApplyRoomSnapshot(m.RoomID, m.Users)
	case protocol.UserStatusUpdate:
		d.presence.ApplyRoomStatusDelta(m.RoomID, m.UserID, m.Status, m.UserName)
	case protocol.UserTyping:
		d.typing.ApplyRemote(m)
	case protocol.Heartbeat:
		if err := d.send(protocol.EncodeHeartbeatAck(d.localUserID)); err != nil {
			d.log.Warn().Err(err).Msg("heartbeat ack send failed")
		}
	case protocol.ConnectionAck:
		d.log.Info().Str("text", m.Text).Msg("feed confirmed by backend")
		if d.onAck != nil {
			d.onAck(m.Text)
		}
	case protocol.Unknown:
		d.log.Warn().Str("kind", m.Kind).Int("bytes", len(m.Raw)).Msg("unrecognized frame dropped")
	}
	return true
}

// handleChatMessage covers both the notification and the authoritative
// payload form. Messages for the open room from remote authors land in the
// message store (de-duplicated by id); every message refreshes the room
// list projection, with unread counting remote authors only.
func (d *Dispatcher) handleChatMessage(m protocol.ChatMessage) {
	fromLocal := m.AuthorID == d.localUserID
	if m.RoomID == d.activeRoom() && !fromLocal && d.store != nil && m.MessageID != "" {
		fresh, err := d.store.Append(context.Background(), chatstore.Message{
			ID:         m.MessageID,
			RoomID:     m.RoomID,
			AuthorID:   m.AuthorID,
			AuthorName: m.AuthorName,
			Body:       m.Body,
			SentAt:     m.SentAt(),
		})
		if err != nil {
			d.log.Warn().Err(err).Str("message_id", m.MessageID).Msg("message append failed")
		} else if !fresh {
			d.log.Debug().Str("message_id", m.MessageID).Msg("duplicate message collapsed")
		}
	}
	if d.rooms != nil {
		d.rooms.Touch(m.RoomID, m.Body, m.SentAt(), fromLocal)
	}
	if d.onRoom != nil {
		d.onRoom(m.RoomID)
	}
}

// acquire takes the single dispatch slot. The slot stays taken from here
// until the guard timer armed by release fires.
func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.inFlight {
		return false
	}
	d.inFlight = true
	return true
}

// release arms the guard clear. The slot frees GuardWindow after the
// dispatch finished, not when it finished.
func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.inFlight = false
		return
	}
	d.clearTimer = time.AfterFunc(d.guardWindow, func() {
		d.mu.Lock()
		d.inFlight = false
		d.clearTimer = nil
		d.mu.Unlock()
	})
}

// Close cancels the pending guard clear.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.clearTimer != nil {
		d.clearTimer.Stop()
		d.clearTimer = nil
	}
}
