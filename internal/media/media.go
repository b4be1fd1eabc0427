// Package media owns the local/remote stream handles and the underlying
// peer-connection object for one call. The capability surface consumed from
// the platform (capture devices and the connection) is expressed as
// interfaces so the call core never touches connection internals; a
// pion/webrtc + pion/mediadevices implementation is provided.
package media

import (
	"context"
	"fmt"

	"github.com/1ureka/peercall/internal/record"
)

// Facing selects which camera to capture from.
type Facing string

const (
	FacingFront Facing = "user"
	FacingBack  Facing = "environment"
)

// Flip returns the opposite camera facing.
func (f Facing) Flip() Facing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is one capture or remote media track handle.
type Track interface {
	ID() string
	Kind() TrackKind
	// Stop releases the underlying capture resource. Remote tracks treat
	// this as a no-op.
	Stop() error
}

// Stream is a bundle of tracks sharing one source (a capture session or a
// remote peer).
type Stream interface {
	ID() string
	Tracks() []Track
}

// Sender is an outbound track binding on the connection. Replacing its
// track performs a live substitution without renegotiation.
type Sender interface {
	Track() Track
	ReplaceTrack(t Track) error
}

// Constraints describes a capture request.
type Constraints struct {
	Audio  bool
	Video  bool
	Facing Facing
}

// Devices provides media capture.
type Devices interface {
	// Acquire requests capture per the constraints. Hardware or permission
	// failure is reported as an *AcquisitionError.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// AcquisitionError reports that the camera/microphone is unavailable or
// permission was denied. Call setup aborts on this error.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string { return fmt.Sprintf("media acquisition failed: %v", e.Err) }
func (e *AcquisitionError) Unwrap() error { return e.Err }

// ConnState is the coarse connection health reported by the peer connection.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// PeerConn is the connection-like object consumed by the session. All
// callbacks may fire on the implementation's own goroutines; registering
// them before negotiation starts is the caller's responsibility.
type PeerConn interface {
	CreateOffer(ctx context.Context) (record.SessionDescription, error)
	CreateAnswer(ctx context.Context) (record.SessionDescription, error)
	SetLocalDescription(ctx context.Context, d record.SessionDescription) error
	SetRemoteDescription(ctx context.Context, d record.SessionDescription) error

	// AddICECandidate applies a remote candidate payload (JSON-encoded).
	AddICECandidate(payload string) error

	AddTrack(t Track) (Sender, error)
	Senders() []Sender

	// OnICECandidate registers fn for each gathered local candidate,
	// delivered as a JSON-encoded payload. End-of-gathering is not reported.
	OnICECandidate(fn func(payload string))
	// OnTrack registers fn for inbound remote streams. It may fire once per
	// remote stream; tracks may be added to the stream after the callback.
	OnTrack(fn func(Stream))
	// OnStateChange registers fn for connection state transitions.
	OnStateChange(fn func(ConnState))

	Close() error
}
