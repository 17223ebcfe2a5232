package realtime

import "github.com/pkg/errors"

// Failure taxonomy for the realtime core. Nothing here is fatal to the
// process; callers degrade to the last known good state and log.
var (
	// ErrNotConnected is returned by Feed.Send when the feed is not Open.
	// The caller decides whether to drop; the core never buffers outbound
	// frames across disconnects.
	ErrNotConnected = errors.New("feed is not connected")

	// ErrFeedClosed is returned when operating on an intentionally closed feed.
	ErrFeedClosed = errors.New("feed is closed")

	// ErrCallUnavailable means the availability probe reported the target
	// cannot take a call right now.
	ErrCallUnavailable = errors.New("call target is unavailable")

	// ErrCallActive rejects a second call while one is in progress.
	ErrCallActive = errors.New("a call is already active")

	// ErrCallCollision means an inbound offer raced a local initiation.
	ErrCallCollision = errors.New("call collided with an incoming offer")

	// ErrNoPendingCall rejects accept/reject without a pending incoming offer.
	ErrNoPendingCall = errors.New("no pending incoming call")
)
