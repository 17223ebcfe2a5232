package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Matheusvlz/Sistema-Bioma-sub004/pkg/protocol"
)

// CallState is the signaling machine's state. At most one non-Idle state
// exists system-wide.
type CallState int

const (
	CallIdle CallState = iota
	CallIncoming
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIncoming:
		return "incoming"
	case CallActive:
		return "active"
	default:
		return "idle"
	}
}

// CallDirection distinguishes who started the call.
type CallDirection int

const (
	DirectionIncoming CallDirection = iota
	DirectionOutgoing
)

// CallSession is the single active call.
type CallSession struct {
	Type      protocol.CallType
	PeerID    int64
	PeerName  string
	Direction CallDirection
	Offer     json.RawMessage
}

// PendingIncomingCall holds an offer the local user has not answered yet.
// It is cleared on accept, reject, or answer timeout.
type PendingIncomingCall struct {
	Offer      protocol.Signal
	ReceivedAt time.Time
}

// AvailabilityProber checks whether a call target can ring right now. The
// backend command channel implements it.
type AvailabilityProber interface {
	CheckCallAvailability(ctx context.Context, userID int64) (bool, error)
}

// CallManagerConfig wires the machine to the call feed and the backend.
type CallManagerConfig struct {
	LocalUserID   int64
	LocalUserName string
	// Send writes a signal to the call feed.
	Send   func(data []byte) error
	Prober AvailabilityProber
	// AnswerTimeout expires an unanswered incoming offer. Defaults to 30s.
	AnswerTimeout time.Duration
	// OnIncoming rings the presentation layer, on a path distinct from all
	// chat notifications.
	OnIncoming func(call PendingIncomingCall)
	// OnStateChange observes every transition.
	OnStateChange func(state CallState, session *CallSession)
}

// CallManager models the single active call's lifecycle, driven by signals
// from the call feed and local user actions.
type CallManager struct {
	localUserID   int64
	localUserName string
	send          func([]byte) error
	prober        AvailabilityProber
	answerTimeout time.Duration
	onIncoming    func(PendingIncomingCall)
	onState       func(CallState, *CallSession)
	log           zerolog.Logger

	mu          sync.Mutex
	state       CallState
	pending     *PendingIncomingCall
	session     *CallSession
	answerTimer *time.Timer
	closed      bool
}

func NewCallManager(cfg CallManagerConfig) *CallManager {
	if cfg.Send == nil {
		cfg.Send = func([]byte) error { return nil }
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 30 * time.Second
	}
	return &CallManager{
		localUserID:   cfg.LocalUserID,
		localUserName: cfg.LocalUserName,
		send:          cfg.Send,
		prober:        cfg.Prober,
		answerTimeout: cfg.AnswerTimeout,
		onIncoming:    cfg.OnIncoming,
		onState:       cfg.OnStateChange,
		log:           log.With().Str("component", "call").Logger(),
	}
}

// HandleSignal applies one inbound call feed signal.
func (m *CallManager) HandleSignal(sig protocol.Signal) {
	if m == nil {
		return
	}
	switch sig.Type {
	case protocol.CallOffer:
		m.handleOffer(sig)
	case protocol.CallBusy, protocol.CallRejected:
		m.handlePeerDeclined(sig)
	case protocol.CallEnded:
		m.handlePeerEnded(sig)
	}
}

// handleOffer rings for a new offer, or answers busy when any call is
// already underway. Both collisions count: an offer while ringing and an
// offer while in an active call of either direction.
func (m *CallManager) handleOffer(sig protocol.Signal) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state != CallIdle {
		m.mu.Unlock()
		m.log.Info().Int64("from", sig.FromID).Msg("offer while busy, replying busy")
		m.sendSignal(protocol.Signal{Type: protocol.CallBusy, FromID: m.localUserID, FromName: m.localUserName, TargetID: sig.FromID})
		return
	}
	call := PendingIncomingCall{Offer: sig, ReceivedAt: time.Now()}
	m.pending = &call
	m.state = CallIncoming
	m.armAnswerTimerLocked()
	ring := m.onIncoming
	m.mu.Unlock()

	m.notifyState(CallIncoming, nil)
	if ring != nil {
		ring(call)
	}
}

func (m *CallManager) handlePeerDeclined(sig protocol.Signal) {
	m.mu.Lock()
	collapse := false
	switch m.state {
	case CallIncoming:
		collapse = m.pending != nil && m.pending.Offer.FromID == sig.FromID
	case CallActive:
		collapse = m.session != nil && m.session.Direction == DirectionOutgoing && m.session.PeerID == sig.FromID
	}
	if !collapse {
		m.mu.Unlock()
		m.log.Debug().Str("type", string(sig.Type)).Int64("from", sig.FromID).Msg("stray decline signal ignored")
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.notifyState(CallIdle, nil)
}

func (m *CallManager) handlePeerEnded(sig protocol.Signal) {
	m.mu.Lock()
	peer := m.peerIDLocked()
	if m.state == CallIdle || (peer != 0 && peer != sig.FromID) {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.notifyState(CallIdle, nil)
}

// Accept promotes the pending offer into the active session.
func (m *CallManager) Accept() (CallSession, error) {
	if m == nil {
		return CallSession{}, errors.New("call manager is nil")
	}
	m.mu.Lock()
	if m.state != CallIncoming || m.pending == nil {
		m.mu.Unlock()
		return CallSession{}, ErrNoPendingCall
	}
	offer := m.pending.Offer
	session := &CallSession{
		Type:      offer.CallType,
		PeerID:    offer.FromID,
		PeerName:  offer.FromName,
		Direction: DirectionIncoming,
		Offer:     offer.Payload,
	}
	m.session = session
	m.pending = nil
	m.state = CallActive
	m.cancelAnswerTimerLocked()
	m.mu.Unlock()
	m.notifyState(CallActive, session)
	return *session, nil
}

// Reject declines the pending offer, addressing the reject to its sender.
func (m *CallManager) Reject() error {
	if m == nil {
		return errors.New("call manager is nil")
	}
	m.mu.Lock()
	if m.state != CallIncoming || m.pending == nil {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	target := m.pending.Offer.FromID
	m.resetLocked()
	m.mu.Unlock()

	m.sendSignal(protocol.Signal{Type: protocol.CallRejected, FromID: m.localUserID, FromName: m.localUserName, TargetID: target})
	m.notifyState(CallIdle, nil)
	return nil
}

// Initiate starts an outgoing call. The target's availability is probed
// first; an unavailable target surfaces ErrCallUnavailable without the
// machine ever leaving Idle. An offer that arrives during the probe wins:
// the initiation fails with ErrCallCollision.
func (m *CallManager) Initiate(ctx context.Context, targetID int64, targetName string, callType protocol.CallType, payload json.RawMessage) (CallSession, error) {
	if m == nil {
		return CallSession{}, errors.New("call manager is nil")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return CallSession{}, errors.New("call manager is closed")
	}
	if m.state == CallActive {
		m.mu.Unlock()
		return CallSession{}, ErrCallActive
	}
	hadPending := m.state == CallIncoming
	m.mu.Unlock()
	if hadPending {
		// Starting a call with an offer ringing implicitly declines it,
		// keeping the at-most-one-call invariant.
		if err := m.Reject(); err != nil && !errors.Is(err, ErrNoPendingCall) {
			return CallSession{}, err
		}
	}

	if m.prober != nil {
		available, err := m.prober.CheckCallAvailability(ctx, targetID)
		if err != nil {
			return CallSession{}, errors.Wrap(err, "call availability probe")
		}
		if !available {
			return CallSession{}, ErrCallUnavailable
		}
	}

	m.mu.Lock()
	if m.state != CallIdle {
		// An inbound offer raced the probe.
		m.mu.Unlock()
		return CallSession{}, ErrCallCollision
	}
	session := &CallSession{
		Type:      callType,
		PeerID:    targetID,
		PeerName:  targetName,
		Direction: DirectionOutgoing,
		Offer:     payload,
	}
	m.session = session
	m.state = CallActive
	m.mu.Unlock()

	err := m.sendSignalErr(protocol.Signal{
		Type:     protocol.CallOffer,
		CallType: callType,
		FromID:   m.localUserID,
		FromName: m.localUserName,
		TargetID: targetID,
		Payload:  payload,
	})
	if err != nil {
		m.mu.Lock()
		m.resetLocked()
		m.mu.Unlock()
		m.notifyState(CallIdle, nil)
		return CallSession{}, errors.Wrap(err, "send call offer")
	}
	m.notifyState(CallActive, session)
	return *session, nil
}

// End hangs up. The state reset is unconditional: a failed end-signal send
// must not leave a zombie Active session behind.
func (m *CallManager) End() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.state == CallIdle {
		m.mu.Unlock()
		return
	}
	peer := m.peerIDLocked()
	m.resetLocked()
	m.mu.Unlock()

	if peer != 0 {
		m.sendSignal(protocol.Signal{Type: protocol.CallEnded, FromID: m.localUserID, FromName: m.localUserName, TargetID: peer})
	}
	m.notifyState(CallIdle, nil)
}

// State reports the machine's current state.
func (m *CallManager) State() CallState {
	if m == nil {
		return CallIdle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the active session, if any.
func (m *CallManager) Session() (CallSession, bool) {
	if m == nil {
		return CallSession{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return CallSession{}, false
	}
	return *m.session, true
}

// Pending returns a copy of the unanswered incoming offer, if any.
func (m *CallManager) Pending() (PendingIncomingCall, bool) {
	if m == nil {
		return PendingIncomingCall{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return PendingIncomingCall{}, false
	}
	return *m.pending, true
}

// Close cancels the answer timer and freezes the machine.
func (m *CallManager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancelAnswerTimerLocked()
	m.pending = nil
	m.session = nil
	m.state = CallIdle
}

func (m *CallManager) armAnswerTimerLocked() {
	m.cancelAnswerTimerLocked()
	m.answerTimer = time.AfterFunc(m.answerTimeout, m.answerExpired)
}

func (m *CallManager) cancelAnswerTimerLocked() {
	if m.answerTimer != nil {
		m.answerTimer.Stop()
		m.answerTimer = nil
	}
}

func (m *CallManager) answerExpired() {
	m.mu.Lock()
	if m.closed || m.state != CallIncoming || m.pending == nil {
		m.mu.Unlock()
		return
	}
	target := m.pending.Offer.FromID
	m.resetLocked()
	m.mu.Unlock()

	m.log.Info().Int64("from", target).Msg("incoming call unanswered, rejecting")
	m.sendSignal(protocol.Signal{Type: protocol.CallRejected, FromID: m.localUserID, FromName: m.localUserName, TargetID: target})
	m.notifyState(CallIdle, nil)
}

func (m *CallManager) resetLocked() {
	m.pending = nil
	m.session = nil
	m.state = CallIdle
	m.cancelAnswerTimerLocked()
}

func (m *CallManager) peerIDLocked() int64 {
	if m.session != nil {
		return m.session.PeerID
	}
	if m.pending != nil {
		return m.pending.Offer.FromID
	}
	return 0
}

func (m *CallManager) sendSignal(sig protocol.Signal) {
	if err := m.sendSignalErr(sig); err != nil {
		m.log.Warn().Err(err).Str("type", string(sig.Type)).Int64("target", sig.TargetID).Msg("call signal send failed")
	}
}

func (m *CallManager) sendSignalErr(sig protocol.Signal) error {
	return m.send(protocol.EncodeSignal(sig))
}

func (m *CallManager) notifyState(state CallState, session *CallSession) {
	if m.onState != nil {
		m.onState(state, session)
	}
}
