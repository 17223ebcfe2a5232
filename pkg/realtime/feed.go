package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConnState is the lifecycle state of a feed's current connection.
type ConnState int32

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn is the subset of a websocket connection the feed needs. Tests inject
// stubs; production uses gorilla/websocket through WebsocketDialer.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens one physical connection for a feed.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	conn, _, err := wd.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FeedConfig configures one logical feed (chat or call signaling).
type FeedConfig struct {
	// Name tags log lines, e.g. "chat" or "call".
	Name string
	URL  string
	// Dialer defaults to WebsocketDialer.
	Dialer Dialer
	// ReconnectDelay is the fixed wait before the single scheduled reconnect
	// attempt after an abnormal close. Defaults to 3s. Whether this should
	// escalate exponentially is an open tuning question; the knob is here.
	ReconnectDelay time.Duration
	// HeartbeatInterval defaults to 30s. Heartbeats are sent regardless of
	// traffic while the feed is Open; a nil Heartbeat disables them.
	HeartbeatInterval time.Duration
	Heartbeat         func() []byte
	// OnMessage receives every inbound frame, in arrival order, from the
	// read loop goroutine.
	OnMessage func(data []byte)
	// OnStateChange observes lifecycle transitions. err is non-nil for
	// transitions caused by a failure.
	OnStateChange func(state ConnState, err error)
}

// connection is the per-attempt state. A fresh one is built for every dial;
// the previous one is discarded, never mutated back into service.
type connection struct {
	conn    Conn
	attempt int
	done    chan struct{}
}

// Feed owns one physical connection per logical feed and its reconnection
// policy. At most one connection exists at a time; Connect is a no-op while
// one is being established or open.
type Feed struct {
	name              string
	url               string
	dialer            Dialer
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	heartbeat         func() []byte
	onMessage         func([]byte)
	onState           func(ConnState, error)
	log               zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	state   ConnState
	cur     *connection
	baseCtx context.Context

	retryCount       int
	lastErr          error
	reconnectPending bool
	reconnectTimer   *time.Timer
	closed           bool
}

func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.URL == "" {
		return nil, errors.New("feed URL is empty")
	}
	if cfg.Name == "" {
		cfg.Name = "feed"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Feed{
		name:              cfg.Name,
		url:               cfg.URL,
		dialer:            cfg.Dialer,
		reconnectDelay:    cfg.ReconnectDelay,
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeat:         cfg.Heartbeat,
		onMessage:         cfg.OnMessage,
		onState:           cfg.OnStateChange,
		log:               log.With().Str("component", "realtime").Str("feed", cfg.Name).Logger(),
	}, nil
}

// Connect dials the feed. It fails fast (as a no-op) when a connection is
// already being established or open, so overlapping reconnect schedules and
// user retries can never open two connections for the same feed.
func (f *Feed) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	if f.state == StateConnecting || f.state == StateOpen {
		f.mu.Unlock()
		return nil
	}
	f.baseCtx = ctx
	attempt := f.retryCount + 1
	f.state = StateConnecting
	f.mu.Unlock()
	f.notifyState(StateConnecting, nil)

	conn, err := f.dialer.DialContext(ctx, f.url)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrFeedClosed
	}
	if err != nil {
		f.retryCount = attempt
		f.lastErr = err
		f.state = StateClosed
		f.scheduleReconnectLocked()
		f.mu.Unlock()
		f.notifyState(StateClosed, err)
		return errors.Wrapf(err, "connect %s feed", f.name)
	}
	c := &connection{conn: conn, attempt: attempt, done: make(chan struct{})}
	f.cur = c
	f.retryCount = 0
	f.lastErr = nil
	f.state = StateOpen
	f.mu.Unlock()
	f.notifyState(StateOpen, nil)
	f.log.Info().Int("attempt", attempt).Msg("feed connected")

	go f.readLoop(c)
	if f.heartbeat != nil {
		go f.heartbeatLoop(c)
	}
	return nil
}

// Send writes one text frame. It never buffers: when the feed is not Open
// the caller gets ErrNotConnected and decides what to do with the payload.
func (f *Feed) Send(data []byte) error {
	f.mu.Lock()
	if f.state != StateOpen || f.cur == nil {
		f.mu.Unlock()
		return ErrNotConnected
	}
	c := f.cur
	f.mu.Unlock()

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(err, "send on %s feed", f.name)
	}
	return nil
}

// Close tears the feed down intentionally: pending reconnects are cancelled,
// the peer gets a normal-closure frame, and no reconnect is scheduled for
// the resulting read error.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.reconnectTimer != nil {
		f.reconnectTimer.Stop()
		f.reconnectTimer = nil
	}
	f.reconnectPending = false
	c := f.cur
	f.cur = nil
	if c != nil {
		f.state = StateClosing
		close(c.done)
	} else {
		f.state = StateClosed
	}
	f.mu.Unlock()

	if c != nil {
		f.notifyState(StateClosing, nil)
		f.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client going away"), deadline)
		f.writeMu.Unlock()
		_ = c.conn.Close()
		f.mu.Lock()
		f.state = StateClosed
		f.mu.Unlock()
	}
	f.notifyState(StateClosed, nil)
	return nil
}

// State reports the current connection state.
func (f *Feed) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// RetryCount reports consecutive failed attempts; it resets on success.
func (f *Feed) RetryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retryCount
}

// LastError reports the error that ended the last connection, if any.
func (f *Feed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Feed) readLoop(c *connection) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			f.handleClosed(c, err)
			return
		}
		if f.onMessage != nil {
			f.onMessage(data)
		}
	}
}

func (f *Feed) heartbeatLoop(c *connection) {
	ticker := time.NewTicker(f.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := f.Send(f.heartbeat()); err != nil {
				f.log.Debug().Err(err).Msg("heartbeat send failed")
			}
		}
	}
}

// handleClosed processes the end of a connection's read loop. Only the
// current connection may mutate feed state; a stale connection's exit is
// ignored.
func (f *Feed) handleClosed(c *connection, err error) {
	f.mu.Lock()
	if f.cur != c {
		f.mu.Unlock()
		return
	}
	close(c.done)
	f.cur = nil
	_ = c.conn.Close()
	intentional := f.closed || websocket.IsCloseError(err, websocket.CloseNormalClosure)
	f.lastErr = err
	f.state = StateClosed
	if !intentional {
		f.scheduleReconnectLocked()
	}
	f.mu.Unlock()
	f.notifyState(StateClosed, err)
	if intentional {
		f.log.Info().Msg("feed closed")
		return
	}
	f.log.Warn().Err(err).Dur("retry_in", f.reconnectDelay).Msg("feed dropped, reconnect scheduled")
}

// scheduleReconnectLocked arms exactly one reconnect attempt. The pending
// flag keeps overlapping close events from stacking timers.
func (f *Feed) scheduleReconnectLocked() {
	if f.reconnectPending || f.closed {
		return
	}
	f.reconnectPending = true
	f.reconnectTimer = time.AfterFunc(f.reconnectDelay, func() {
		f.mu.Lock()
		f.reconnectPending = false
		f.reconnectTimer = nil
		ctx := f.baseCtx
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return
		}
		// A failed attempt schedules the next one itself.
		if err := f.Connect(ctx); err != nil && !errors.Is(err, ErrFeedClosed) {
			f.log.Warn().Err(err).Msg("reconnect attempt failed")
		}
	})
}

func (f *Feed) notifyState(state ConnState, err error) {
	if f.onState != nil {
		f.onState(state, err)
	}
}
