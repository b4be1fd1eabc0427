package call

import (
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/util"
)

// candidateBuffer holds remote ICE candidates until they are safe to apply:
// the connection rejects candidates that arrive before a remote description,
// and the store may deliver them in any order relative to the offer/answer.
//
// Deduplication uses the candidate payload itself as the key — the payload
// is a stable JSON serialization produced once by the sending side, so a
// replayed candidate always carries the identical string.
//
// All methods are invoked from the session event loop only; no locking.
type candidateBuffer struct {
	callID string
	pc     media.PeerConn

	seen     map[string]struct{}
	pending  []string // payloads awaiting the remote description, arrival order
	applied  bool     // remote description applied; apply directly from now on
	terminal bool     // call over; discard everything silently
}

func newCandidateBuffer(callID string, pc media.PeerConn) *candidateBuffer {
	return &candidateBuffer{
		callID: callID,
		pc:     pc,
		seen:   make(map[string]struct{}),
	}
}

// onRemote handles one remote candidate payload: drop duplicates, buffer
// until the remote description is applied, otherwise apply immediately.
func (b *candidateBuffer) onRemote(payload string) {
	if b.terminal {
		return
	}
	if _, dup := b.seen[payload]; dup {
		return
	}
	b.seen[payload] = struct{}{}

	if !b.applied {
		b.pending = append(b.pending, payload)
		return
	}
	b.apply(payload)
}

// flushPending marks the remote description applied and applies every
// buffered candidate in arrival order.
func (b *candidateBuffer) flushPending() {
	b.applied = true
	for _, payload := range b.pending {
		b.apply(payload)
	}
	b.pending = nil
}

// discard drops the buffer and silently ignores all future candidates.
func (b *candidateBuffer) discard() {
	b.terminal = true
	b.pending = nil
}

func (b *candidateBuffer) apply(payload string) {
	if err := b.pc.AddICECandidate(payload); err != nil {
		util.LogWarning("call %s: failed to add ICE candidate: %v", b.callID, err)
		return
	}
	util.Stats.AddCandidate()
}
