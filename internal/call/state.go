// Package call is the signaling core: the per-call state machine, the
// candidate buffer, the timeout supervisor, the serialized session event
// loop and the orchestrator that wires them together per call ID.
package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/record"
	"github.com/1ureka/peercall/internal/util"
)

// State is the local lifecycle position of one side of a call.
type State string

const (
	StateIdle      State = "idle"
	StateOffering  State = "offering"  // caller: offer published, waiting
	StateRinging   State = "ringing"   // callee: offer seen, not accepted yet
	StateAnswering State = "answering" // callee: constructing the answer
	StateConnected State = "connected"

	// Terminal states. No further transitions.
	StateRejected State = "rejected"
	StateEnded    State = "ended"
	StateTimedOut State = "timed-out"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateEnded || s == StateTimedOut
}

// errDesync marks a duplicate remote offer/answer observed after a remote
// description was already applied. Recoverable: ignored and logged, no
// state change.
var errDesync = errors.New("remote description already applied")

// machine decides which negotiation action is legal given the fixed role
// and the observed record, and performs it against the peer connection.
// The role is set at call creation and never inferred from message order,
// so two peers racing to offer cannot both win: only the caller ever
// generates an offer, and one-shot guards prevent double-apply corruption.
//
// All fields are owned by the session event loop; no locking here.
type machine struct {
	side record.Side
	pc   media.PeerConn

	state State

	// accepted gates answer generation on the callee; the caller needs no
	// consent and starts accepted.
	accepted bool

	// One-shot guards. offerPublished/answerPublished flip only after the
	// full generate-set-publish action succeeded, so a failed attempt
	// leaves the machine in its prior state and the same action re-runs on
	// the next snapshot. remoteApplied flips as soon as a remote
	// description is applied and makes any further remote offer/answer a
	// silent no-op.
	offerPublished  bool
	answerPublished bool
	remoteApplied   bool

	desyncLogged bool
}

func newMachine(side record.Side, pc media.PeerConn) *machine {
	return &machine{
		side:     side,
		pc:       pc,
		state:    StateIdle,
		accepted: side == record.SideCaller,
	}
}

// step computes and performs the one legal negotiation action for the
// observed snapshot. It returns a patch to publish (nil when there is
// nothing to say) and an error when the action failed; on error the
// machine keeps its prior state and no record mutation happens.
//
// Terminal snapshots are handled by the session before step is called.
func (m *machine) step(ctx context.Context, snap *record.CallRecord) (*record.Patch, error) {
	switch m.side {
	case record.SideCaller:
		return m.stepCaller(ctx, snap)
	default:
		return m.stepCallee(ctx, snap)
	}
}

// stepCaller: publish the offer exactly once, then apply the answer
// exactly once.
func (m *machine) stepCaller(ctx context.Context, snap *record.CallRecord) (*record.Patch, error) {
	if snap.Offer.Empty() && !m.offerPublished {
		offer, err := m.pc.CreateOffer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create offer: %w", err)
		}
		if err := m.pc.SetLocalDescription(ctx, offer); err != nil {
			return nil, fmt.Errorf("failed to set local offer: %w", err)
		}
		m.offerPublished = true
		m.state = StateOffering

		ringing := record.StatusRinging
		return &record.Patch{Offer: &offer, Status: &ringing}, nil
	}

	if !snap.Answer.Empty() {
		if m.remoteApplied {
			// Subscriptions replay the whole record on every merge, so a
			// snapshot that still carries the answer is normal; an actual
			// second answer can never overwrite the first (write-once).
			m.noteDesync(snap.ID)
			return nil, nil
		}
		if err := m.pc.SetRemoteDescription(ctx, snap.Answer); err != nil {
			return nil, fmt.Errorf("failed to apply remote answer: %w", err)
		}
		m.remoteApplied = true
	}
	return nil, nil
}

// stepCallee: surface ringing on first sight of the offer, then — once
// accepted — apply the offer and publish the answer exactly once.
func (m *machine) stepCallee(ctx context.Context, snap *record.CallRecord) (*record.Patch, error) {
	if snap.Offer.Empty() {
		return nil, nil
	}
	if m.state == StateIdle {
		m.state = StateRinging
	}
	if m.answerPublished && m.remoteApplied {
		m.noteDesync(snap.ID)
		return nil, nil
	}
	if !m.accepted || m.answerPublished || !snap.Answer.Empty() {
		return nil, nil
	}

	if !m.remoteApplied {
		if err := m.pc.SetRemoteDescription(ctx, snap.Offer); err != nil {
			return nil, fmt.Errorf("failed to apply remote offer: %w", err)
		}
		m.remoteApplied = true
	}
	m.state = StateAnswering

	answer, err := m.pc.CreateAnswer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(ctx, answer); err != nil {
		return nil, fmt.Errorf("failed to set local answer: %w", err)
	}
	m.answerPublished = true

	connected := record.StatusConnected
	return &record.Patch{Answer: &answer, Status: &connected}, nil
}

// observeStatus folds the shared record's status into the local state.
// Terminal statuses are resolved by the session (it owns teardown).
func (m *machine) observeStatus(s record.Status) {
	if s == record.StatusConnected && !m.state.Terminal() {
		m.state = StateConnected
	}
}

// noteDesync records (once) that a replayed remote description was ignored.
func (m *machine) noteDesync(callID string) {
	if m.desyncLogged {
		return
	}
	m.desyncLogged = true
	util.LogDebug("call %s (%s): %v", callID, m.side, errDesync)
}
