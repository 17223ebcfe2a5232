package protocol

import (
	"encoding/json"
	"time"
)

// Chat feed message kinds. Inbound kinds arrive on the general chat feed;
// outbound kinds are only ever sent by this client.
const (
	KindChatMessageNotification = "chat_message_notification"
	KindChatMessage             = "chat_message"
	KindUserOnlineStatus        = "UserOnlineStatus"
	KindChatOnlineUsers         = "ChatOnlineUsers"
	KindUserStatusUpdate        = "UserStatusUpdate"
	KindUserTyping              = "UserTyping"
	KindHeartbeat               = "Heartbeat"

	KindJoinChat           = "JoinChat"
	KindLeaveChat          = "LeaveChat"
	KindRequestOnlineUsers = "RequestOnlineUsers"
	KindUpdateStatus       = "UpdateStatus"
	KindTypingStart        = "TypingStart"
	KindTypingStop         = "TypingStop"
	KindHeartbeatAck       = "HeartbeatAck"
)

// Call feed signal kinds.
const (
	KindCallOffer    = "call-offer"
	KindCallBusy     = "call-busy"
	KindCallRejected = "call-rejected"
	KindCallEnded    = "call-ended"
)

// Status is a user's presence status as carried on the wire.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusTyping  Status = "typing"
)

// Inbound is the closed set of frames the chat feed can deliver. Every frame
// decodes to exactly one of the types below; anything unrecognized decodes to
// Unknown rather than failing.
type Inbound interface {
	inboundKind() string
}

// ChatMessage is a room message, either the authoritative payload
// (chat_message) or the lighter notification form (chat_message_notification).
type ChatMessage struct {
	MessageID    string `json:"id"`
	RoomID       string `json:"roomId"`
	AuthorID     int64  `json:"userId"`
	AuthorName   string `json:"userName"`
	Body         string `json:"message"`
	SentAtMs     int64  `json:"timestamp"`
	Notification bool   `json:"-"`
}

// UserOnlineStatus is the global online/offline event for a single user.
type UserOnlineStatus struct {
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	IsOnline   bool   `json:"isOnline"`
	LastSeenMs int64  `json:"lastSeen,omitempty"`
}

// RoomUser is one entry of a bulk room presence snapshot.
type RoomUser struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Status   Status `json:"status"`
}

// ChatOnlineUsers is the bulk "who is online in this room" snapshot.
type ChatOnlineUsers struct {
	RoomID string     `json:"roomId"`
	Users  []RoomUser `json:"users"`
}

// UserStatusUpdate is a per-room presence delta for a single user.
type UserStatusUpdate struct {
	RoomID   string `json:"roomId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Status   Status `json:"status"`
}

// UserTyping flags a remote user as typing (or no longer typing) in a room.
type UserTyping struct {
	RoomID   string `json:"roomId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// Heartbeat is a server-initiated keep-alive that must be acknowledged
// immediately.
type Heartbeat struct {
	SentAtMs int64 `json:"timestamp,omitempty"`
}

// ConnectionAck is the legacy free-text connection confirmation the backend
// emits right after a feed attaches. It carries no structure.
type ConnectionAck struct {
	Text string
}

// Unknown holds a structured frame whose type discriminator is not part of
// the recognized vocabulary, or a text frame matching no known pattern.
type Unknown struct {
	Kind string
	Raw  []byte
}

func (ChatMessage) inboundKind() string      { return KindChatMessage }
func (UserOnlineStatus) inboundKind() string { return KindUserOnlineStatus }
func (ChatOnlineUsers) inboundKind() string  { return KindChatOnlineUsers }
func (UserStatusUpdate) inboundKind() string { return KindUserStatusUpdate }
func (UserTyping) inboundKind() string       { return KindUserTyping }
func (Heartbeat) inboundKind() string        { return KindHeartbeat }
func (ConnectionAck) inboundKind() string    { return "connection_ack" }
func (Unknown) inboundKind() string          { return "unknown" }

// SentAt converts the wire millisecond timestamp, zero time when absent.
func (m ChatMessage) SentAt() time.Time {
	if m.SentAtMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.SentAtMs)
}

// LastSeen converts the wire millisecond timestamp, zero time when absent.
func (u UserOnlineStatus) LastSeen() time.Time {
	if u.LastSeenMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(u.LastSeenMs)
}

// CallKind is the call feed's signal type.
type CallKind string

const (
	CallOffer    CallKind = KindCallOffer
	CallBusy     CallKind = KindCallBusy
	CallRejected CallKind = KindCallRejected
	CallEnded    CallKind = KindCallEnded
)

// CallType distinguishes audio from video calls.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Signal is one frame on the call feed. The payload is opaque to this client
// and handed to the media layer untouched.
type Signal struct {
	Type     CallKind        `json:"type"`
	CallType CallType        `json:"callType,omitempty"`
	FromID   int64           `json:"fromId"`
	FromName string          `json:"fromName,omitempty"`
	TargetID int64           `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
