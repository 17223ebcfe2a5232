package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/chatstore"
	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

// CommandChannel is the outbound request/response surface of the backend the
// engine depends on. pkg/backend implements it.
type CommandChannel interface {
	SendChatRaw(ctx context.Context, payload []byte) error
	CheckCallAvailability(ctx context.Context, userID int64) (bool, error)
}

// Config assembles one realtime engine. Zero durations take the documented
// defaults (3s reconnect, 30s heartbeat, 100ms guard window, 3s typing idle,
// 30s call answer timeout).
type Config struct {
	// ChatFeedURL is the general chat feed endpoint.
	ChatFeedURL string
	// CallFeedURL is the call signaling endpoint base; the local user id is
	// appended as the final path segment.
	CallFeedURL string

	LocalUserID   int64
	LocalUserName string

	Backend CommandChannel

	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	GuardWindow       time.Duration
	TypingIdleTimeout time.Duration
	CallAnswerTimeout time.Duration

	// Store defaults to an in-memory message store owned by the engine.
	Store chatstore.MessageStore
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer Dialer
}

// Engine owns the two feeds and the state trackers behind the chat/call UI:
// who is online, who is typing, which call is ringing. All mutation flows
// through the engine's operations; the presentation layer reads snapshots
// and consumes the notifier topics.
type Engine struct {
	cfg       Config
	log       zerolog.Logger
	notifier  *Notifier
	store     chatstore.MessageStore
	ownsStore bool
	rooms     *chatstore.RoomList

	presence   *PresenceTracker
	typing     *TypingCoordinator
	calls      *CallManager
	dispatcher *Dispatcher
	chatFeed   *Feed
	callFeed   *Feed

	mu         sync.Mutex
	activeRoom string
	closed     bool
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ChatFeedURL == "" {
		return nil, errors.New("engine: chat feed URL is empty")
	}
	if cfg.CallFeedURL == "" {
		return nil, errors.New("engine: call feed URL is empty")
	}
	if cfg.LocalUserID == 0 {
		return nil, errors.New("engine: local user id is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("engine: backend command channel is required")
	}

	e := &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Int64("user_id", cfg.LocalUserID).Logger(),
		notifier: NewNotifier(),
		rooms:    chatstore.NewRoomList(),
		presence: NewPresenceTracker(cfg.LocalUserID),
	}
	e.store = cfg.Store
	if e.store == nil {
		e.store = chatstore.NewMemoryStore(0)
		e.ownsStore = true
	}

	chatFeed, err := NewFeed(FeedConfig{
		Name:              "chat",
		URL:               cfg.ChatFeedURL,
		Dialer:            cfg.Dialer,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Heartbeat:         func() []byte { return protocol.EncodeHeartbeat(cfg.LocalUserID) },
		OnMessage:         func(data []byte) { e.dispatcher.Dispatch(data) },
		OnStateChange:     e.onChatFeedState,
	})
	if err != nil {
		return nil, err
	}
	e.chatFeed = chatFeed

	callFeed, err := NewFeed(FeedConfig{
		Name:              "call",
		URL:               fmt.Sprintf("%s/%d", cfg.CallFeedURL, cfg.LocalUserID),
		Dialer:            cfg.Dialer,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Heartbeat:         func() []byte { return protocol.EncodeHeartbeat(cfg.LocalUserID) },
		OnMessage:         e.onCallFrame,
		OnStateChange:     e.onCallFeedState,
	})
	if err != nil {
		return nil, err
	}
	e.callFeed = callFeed

	e.typing = NewTypingCoordinator(TypingConfig{
		LocalUserID:   cfg.LocalUserID,
		LocalUserName: cfg.LocalUserName,
		IdleTimeout:   cfg.TypingIdleTimeout,
		Send:          chatFeed.Send,
	})
	e.calls = NewCallManager(CallManagerConfig{
		LocalUserID:   cfg.LocalUserID,
		LocalUserName: cfg.LocalUserName,
		Send:          callFeed.Send,
		Prober:        cfg.Backend,
		AnswerTimeout: cfg.CallAnswerTimeout,
		OnIncoming:    e.onIncomingCall,
		OnStateChange: e.onCallState,
	})
	e.dispatcher = NewDispatcher(DispatcherConfig{
		LocalUserID:   cfg.LocalUserID,
		GuardWindow:   cfg.GuardWindow,
		ActiveRoom:    e.ActiveRoom,
		Send:          chatFeed.Send,
		Presence:      e.presence,
		Typing:        e.typing,
		Store:         e.store,
		Rooms:         e.rooms,
		OnRoomChanged: e.onRoomChanged,
	})
	return e, nil
}

// Start connects both feeds. A failed initial dial is returned but leaves
// the feed's reconnect schedule armed, so callers may treat the error as a
// degraded start rather than a fatal one.
func (e *Engine) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.chatFeed.Connect(ctx) })
	g.Go(func() error { return e.callFeed.Connect(ctx) })
	return g.Wait()
}

// Close tears the engine down: feeds, timers, and the notifier. Teardown is
// idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.chatFeed.Close()
	_ = e.callFeed.Close()
	e.dispatcher.Close()
	e.typing.Close()
	e.calls.Close()
	err := e.notifier.Close()
	if e.ownsStore {
		if cerr := e.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ActiveRoom reports the room currently open in the UI.
func (e *Engine) ActiveRoom() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRoom
}

// SetActiveRoom switches the open room. The previous room's typing state is
// stopped before anything is discarded, the presence view is cleared, and a
// fresh snapshot is requested from the backend; presence is never guessed
// for an unseen room.
func (e *Engine) SetActiveRoom(roomID string) {
	e.mu.Lock()
	old := e.activeRoom
	if roomID == old {
		e.mu.Unlock()
		return
	}
	e.activeRoom = roomID
	e.mu.Unlock()

	e.typing.SetActiveRoom(roomID)
	e.presence.SetActiveRoom(roomID)

	if old != "" {
		e.sendBestEffort(protocol.EncodeLeaveChat(old, e.cfg.LocalUserID), "leave room")
	}
	if roomID != "" {
		e.sendBestEffort(protocol.EncodeJoinChat(roomID, e.cfg.LocalUserID, e.cfg.LocalUserName), "join room")
		e.sendBestEffort(protocol.EncodeRequestOnlineUsers(roomID), "request online users")
		e.rooms.MarkRead(roomID)
	}
}

// SendMessage publishes a message to a room through the backend command
// channel, records the local echo, and stops the typing indicator
// immediately.
func (e *Engine) SendMessage(ctx context.Context, roomID, body string) (chatstore.Message, error) {
	if roomID == "" {
		return chatstore.Message{}, errors.New("engine: room id is empty")
	}
	if body == "" {
		return chatstore.Message{}, errors.New("engine: message body is empty")
	}
	msg := chatstore.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		AuthorID:   e.cfg.LocalUserID,
		AuthorName: e.cfg.LocalUserName,
		Body:       body,
		SentAt:     time.Now(),
	}
	payload := protocol.EncodeChatMessage(msg.ID, roomID, msg.AuthorID, msg.AuthorName, body, msg.SentAt.UnixMilli())
	if err := e.cfg.Backend.SendChatRaw(ctx, payload); err != nil {
		return chatstore.Message{}, errors.Wrap(err, "send message")
	}
	e.typing.MessageSent()
	if _, err := e.store.Append(ctx, msg); err != nil {
		e.log.Warn().Err(err).Str("message_id", msg.ID).Msg("local echo append failed")
	}
	e.rooms.Touch(roomID, body, msg.SentAt, true)
	e.onRoomChanged(roomID)
	return msg, nil
}

// Keystroke feeds the typing coordinator from local input.
func (e *Engine) Keystroke() {
	e.typing.Keystroke()
}

// UpdateStatus publishes the local user's presence status for the active
// room, best effort.
func (e *Engine) UpdateStatus(status protocol.Status) {
	room := e.ActiveRoom()
	if room == "" {
		return
	}
	e.sendBestEffort(protocol.EncodeUpdateStatus(room, e.cfg.LocalUserID, e.cfg.LocalUserName, status), "update status")
}

// StartCall rings a user after probing availability.
func (e *Engine) StartCall(ctx context.Context, targetID int64, targetName string, callType protocol.CallType, payload json.RawMessage) (CallSession, error) {
	session, err := e.calls.Initiate(ctx, targetID, targetName, callType, payload)
	if err != nil {
		if errors.Is(err, ErrCallUnavailable) {
			e.notifier.Publish(TopicToasts, Toast{Level: "warn", Text: fmt.Sprintf("%s is busy", targetName)})
		}
		return CallSession{}, err
	}
	return session, nil
}

// AcceptCall answers the pending incoming call.
func (e *Engine) AcceptCall() (CallSession, error) { return e.calls.Accept() }

// RejectCall declines the pending incoming call.
func (e *Engine) RejectCall() error { return e.calls.Reject() }

// EndCall hangs up the active call.
func (e *Engine) EndCall() { e.calls.End() }

// Presence exposes read access to the presence tracker.
func (e *Engine) Presence() *PresenceTracker { return e.presence }

// Typing exposes read access to the typing coordinator.
func (e *Engine) Typing() *TypingCoordinator { return e.typing }

// Calls exposes read access to the call state machine.
func (e *Engine) Calls() *CallManager { return e.calls }

// Rooms exposes the room list projection.
func (e *Engine) Rooms() *chatstore.RoomList { return e.rooms }

// Messages reads the cached messages for a room.
func (e *Engine) Messages(ctx context.Context, roomID string) ([]chatstore.Message, error) {
	return e.store.Messages(ctx, roomID)
}

// Notifications subscribes to one of the notifier topics.
func (e *Engine) Notifications(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return e.notifier.Subscribe(ctx, topic)
}

func (e *Engine) onCallFrame(data []byte) {
	sig, err := protocol.DecodeSignal(data)
	if err != nil {
		e.log.Warn().Err(err).Msg("call frame dropped")
		return
	}
	e.calls.HandleSignal(sig)
}

func (e *Engine) onChatFeedState(state ConnState, err error) {
	switch {
	case state == StateOpen:
		e.notifier.Publish(TopicToasts, Toast{Level: "info", Text: "chat connected"})
		// Rejoin and refresh presence after every (re)connect; this also
		// corrects typing entries for peers that vanished while we were
		// offline.
		if room := e.ActiveRoom(); room != "" {
			e.sendBestEffort(protocol.EncodeJoinChat(room, e.cfg.LocalUserID, e.cfg.LocalUserName), "rejoin room")
			e.sendBestEffort(protocol.EncodeRequestOnlineUsers(room), "refresh online users")
		}
	case state == StateClosed && err != nil:
		e.notifier.Publish(TopicToasts, Toast{Level: "warn", Text: "chat disconnected, reconnecting..."})
	}
}

func (e *Engine) onCallFeedState(state ConnState, err error) {
	if state == StateClosed && err != nil {
		e.notifier.Publish(TopicToasts, Toast{Level: "warn", Text: "call signaling disconnected, reconnecting..."})
	}
}

func (e *Engine) onIncomingCall(call PendingIncomingCall) {
	e.notifier.Publish(TopicCalls, CallNotice{
		State:    "ringing",
		PeerID:   call.Offer.FromID,
		PeerName: call.Offer.FromName,
		CallType: string(call.Offer.CallType),
	})
}

func (e *Engine) onCallState(state CallState, session *CallSession) {
	notice := CallNotice{State: state.String()}
	if session != nil {
		notice.PeerID = session.PeerID
		notice.PeerName = session.PeerName
		notice.CallType = string(session.Type)
	}
	e.notifier.Publish(TopicCalls, notice)
}

func (e *Engine) onRoomChanged(roomID string) {
	e.notifier.Publish(TopicRooms, RoomNotice{RoomID: roomID, Unread: e.rooms.Unread(roomID)})
}

func (e *Engine) sendBestEffort(payload []byte, what string) {
	if err := e.chatFeed.Send(payload); err != nil {
		e.log.Warn().Err(err).Str("op", what).Msg("chat feed send failed")
	}
}
