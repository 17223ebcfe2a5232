package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

type envelope struct {
	Type string `json:"type"`
}

// Decode classifies a raw chat feed frame. JSON frames are decoded by their
// type discriminator; frames that do not parse as JSON fall through to the
// legacy text patterns. Decode never fails on unrecognized input: the caller
// gets an Unknown value and decides to log and drop it.
func Decode(raw []byte) Inbound {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return decodeText(raw)
	}
	switch env.Type {
	case KindChatMessage, KindChatMessageNotification:
		var m ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unknown{Kind: env.Type, Raw: raw}
		}
		m.Notification = env.Type == KindChatMessageNotification
		return m
	case KindUserOnlineStatus:
		var m UserOnlineStatus
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unknown{Kind: env.Type, Raw: raw}
		}
		return m
	case KindChatOnlineUsers:
		var m ChatOnlineUsers
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unknown{Kind: env.Type, Raw: raw}
		}
		return m
	case KindUserStatusUpdate:
		var m UserStatusUpdate
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unknown{Kind: env.Type, Raw: raw}
		}
		return m
	case KindUserTyping:
		var m UserTyping
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unknown{Kind: env.Type, Raw: raw}
		}
		return m
	case KindHeartbeat:
		var m Heartbeat
		if err := json.Unmarshal(raw, &m); err != nil {
			return Unknown{Kind: env.Type, Raw: raw}
		}
		return m
	default:
		return Unknown{Kind: env.Type, Raw: raw}
	}
}

// decodeText matches the legacy free-text status strings. The backend's
// connection confirmation predates the structured envelope and still arrives
// as plain text.
func decodeText(raw []byte) Inbound {
	text := strings.TrimSpace(string(raw))
	lower := strings.ToLower(text)
	if strings.Contains(lower, "connected") || strings.Contains(lower, "conectado") {
		return ConnectionAck{Text: text}
	}
	return Unknown{Raw: raw}
}

// DecodeSignal parses a call feed frame. Unlike the chat feed there is no
// text fallback here; the call feed only ever carries structured signals.
func DecodeSignal(raw []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signal{}, errors.Wrap(err, "decode call signal")
	}
	switch sig.Type {
	case CallOffer, CallBusy, CallRejected, CallEnded:
		return sig, nil
	default:
		return Signal{}, errors.Errorf("unknown call signal type %q", sig.Type)
	}
}
