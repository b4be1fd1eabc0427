package call

import (
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/record"
)

// EventKind identifies the kind of session event.
type EventKind string

const (
	// EventStatus fires on every observed status change of the shared
	// record. The ringing transition is the surrounding app's sole signal
	// to alert the callee.
	EventStatus EventKind = "status"

	// EventRemoteStream fires once, when the remote stream is bound.
	EventRemoteStream EventKind = "remote-stream"

	// EventQuality reports a degraded/failed transport after the call was
	// connected. The core does not auto-reconnect; the app chooses to hang
	// up or wait.
	EventQuality EventKind = "quality"

	// EventTerminal is the last event of a session; State carries the
	// final state and media has already been torn down.
	EventTerminal EventKind = "terminal"
)

// Event is one notification on a session's serialized event stream.
type Event struct {
	Kind   EventKind
	Status record.Status   // EventStatus, EventTerminal
	State  State           // EventStatus, EventTerminal
	Remote media.Stream    // EventRemoteStream
	Conn   media.ConnState // EventQuality
}
