package protocol

import "encoding/json"

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All outbound frames are built from plain structs; marshal cannot
		// fail on them.
		panic(err)
	}
	return b
}

// EncodeJoinChat announces the local user joining a room.
func EncodeJoinChat(roomID string, userID int64, userName string) []byte {
	return mustMarshal(struct {
		Type     string `json:"type"`
		RoomID   string `json:"roomId"`
		UserID   int64  `json:"userId"`
		UserName string `json:"userName"`
	}{KindJoinChat, roomID, userID, userName})
}

// EncodeLeaveChat announces the local user leaving a room.
func EncodeLeaveChat(roomID string, userID int64) []byte {
	return mustMarshal(struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		UserID int64  `json:"userId"`
	}{KindLeaveChat, roomID, userID})
}

// EncodeRequestOnlineUsers asks the backend for a room presence snapshot.
func EncodeRequestOnlineUsers(roomID string) []byte {
	return mustMarshal(struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}{KindRequestOnlineUsers, roomID})
}

// EncodeUpdateStatus publishes the local user's presence status for a room.
func EncodeUpdateStatus(roomID string, userID int64, userName string, status Status) []byte {
	return mustMarshal(struct {
		Type     string `json:"type"`
		RoomID   string `json:"roomId"`
		UserID   int64  `json:"userId"`
		UserName string `json:"userName"`
		Status   Status `json:"status"`
	}{KindUpdateStatus, roomID, userID, userName, status})
}

// EncodeTyping builds a TypingStart or TypingStop signal for a room.
func EncodeTyping(roomID string, userID int64, userName string, typing bool) []byte {
	kind := KindTypingStop
	if typing {
		kind = KindTypingStart
	}
	return mustMarshal(struct {
		Type     string `json:"type"`
		RoomID   string `json:"roomId"`
		UserID   int64  `json:"userId"`
		UserName string `json:"userName"`
	}{kind, roomID, userID, userName})
}

// EncodeChatMessage builds an outbound room message frame.
func EncodeChatMessage(id, roomID string, userID int64, userName, body string, sentAtMs int64) []byte {
	return mustMarshal(struct {
		Type      string `json:"type"`
		MessageID string `json:"id"`
		RoomID    string `json:"roomId"`
		UserID    int64  `json:"userId"`
		UserName  string `json:"userName"`
		Body      string `json:"message"`
		SentAtMs  int64  `json:"timestamp"`
	}{KindChatMessage, id, roomID, userID, userName, body, sentAtMs})
}

// EncodeHeartbeat builds the client's periodic keep-alive frame.
func EncodeHeartbeat(userID int64) []byte {
	return mustMarshal(struct {
		Type   string `json:"type"`
		UserID int64  `json:"userId"`
	}{KindHeartbeat, userID})
}

// EncodeHeartbeatAck acknowledges a server-initiated heartbeat.
func EncodeHeartbeatAck(userID int64) []byte {
	return mustMarshal(struct {
		Type   string `json:"type"`
		UserID int64  `json:"userId"`
	}{KindHeartbeatAck, userID})
}

// EncodeSignal serializes a call feed signal.
func EncodeSignal(sig Signal) []byte {
	return mustMarshal(sig)
}
