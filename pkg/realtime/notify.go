package realtime

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Notification topics the engine publishes for the presentation layer. The
// UI only ever consumes these; it never mutates engine state directly.
const (
	// TopicToasts carries transient user-facing notices ("disconnected,
	// reconnecting...").
	TopicToasts = "ui.toasts"
	// TopicCalls carries call lifecycle notices, distinct from all chat
	// notifications.
	TopicCalls = "ui.calls"
	// TopicRooms carries room list projection updates.
	TopicRooms = "ui.rooms"
)

// Toast is a transient notice. Level is "info", "warn", or "error".
type Toast struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// CallNotice describes a call lifecycle event for the UI.
type CallNotice struct {
	State    string `json:"state"`
	PeerID   int64  `json:"peerId,omitempty"`
	PeerName string `json:"peerName,omitempty"`
	CallType string `json:"callType,omitempty"`
}

// RoomNotice flags that a room's messages or projection changed.
type RoomNotice struct {
	RoomID string `json:"roomId"`
	Unread int    `json:"unread"`
}

// Notifier is the in-process pub/sub bridge between the engine and the
// presentation layer, backed by a watermill gochannel.
type Notifier struct {
	ps  *gochannel.GoChannel
	log zerolog.Logger
}

func NewNotifier() *Notifier {
	logger := log.With().Str("component", "notifier").Logger()
	return &Notifier{
		ps: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, zerologWatermillAdapter{log: logger}),
		log: logger,
	}
}

// Publish marshals payload and fans it out on topic. Failures degrade to a
// log line; notifications are never load-bearing for engine state.
func (n *Notifier) Publish(topic string, payload any) {
	if n == nil || n.ps == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn().Err(err).Str("topic", topic).Msg("notification marshal failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := n.ps.Publish(topic, msg); err != nil {
		n.log.Warn().Err(err).Str("topic", topic).Msg("notification publish failed")
	}
}

// Subscribe returns the stream of notifications for one topic.
func (n *Notifier) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return n.ps.Subscribe(ctx, topic)
}

func (n *Notifier) Close() error {
	if n == nil || n.ps == nil {
		return nil
	}
	return n.ps.Close()
}

// zerologWatermillAdapter bridges watermill's logger interface onto the
// zerolog logger the rest of the client uses.
type zerologWatermillAdapter struct {
	log zerolog.Logger
}

var _ watermill.LoggerAdapter = zerologWatermillAdapter{}

func (a zerologWatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologWatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologWatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologWatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologWatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologWatermillAdapter{log: a.log.With().Fields(map[string]any(fields)).Logger()}
}
