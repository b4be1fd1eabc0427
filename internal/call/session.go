package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/peercall/internal/identity"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/record"
	"github.com/1ureka/peercall/internal/store"
	"github.com/1ureka/peercall/internal/util"
)

// ErrNotCallee is returned when a callee-only operation is invoked on the
// calling side.
var ErrNotCallee = errors.New("operation is callee-only")

// command is a user action posted to the session event loop.
type command int

const (
	cmdNone command = iota
	cmdAccept
	cmdDecline
	cmdHangUp
	cmdRetry
)

// inboxMsg multiplexes everything that may touch session state onto the
// single ordered inbox: store snapshots, user commands, the establishment
// timeout and peer-connection callbacks.
type inboxMsg struct {
	snap    *record.CallRecord
	cmd     command
	remote  media.Stream
	conn    media.ConnState
	timeout bool
}

// Session is one side of one call. All mutable session state is owned by a
// single event-loop goroutine; network pushes and local user actions are
// serialized through the inbox and never processed concurrently against
// each other. Media resources are torn down exactly once, on the first
// terminal trigger to win (user hang-up, remote termination, timeout).
type Session struct {
	id     string
	side   record.Side
	remote identity.Identity

	st    store.Store
	media *media.Session

	inbox  chan inboxMsg
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the event loop.
	machine  *machine
	buf      *candidateBuffer
	dog      *watchdog
	lastSnap *record.CallRecord
	finished bool
	unsub    func()

	mu     sync.RWMutex
	status record.Status
	state  State
}

func newSession(parent context.Context, st store.Store, ms *media.Session,
	callID string, side record.Side, remote identity.Identity) *Session {

	ctx, cancel := context.WithCancel(parent)
	pc := ms.PeerConn()

	return &Session{
		id:      callID,
		side:    side,
		remote:  remote,
		st:      st,
		media:   ms,
		inbox:   make(chan inboxMsg, 16),
		events:  make(chan Event, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		machine: newMachine(side, pc),
		buf:     newCandidateBuffer(callID, pc),
		state:   StateIdle,
	}
}

// begin wires the peer-connection callbacks, subscribes to the record, arms
// the establishment deadline and starts the event loop. The record must
// already exist in the store.
func (s *Session) begin(ringTimeout time.Duration) error {
	pc := s.media.PeerConn()

	// Outgoing candidates are published immediately; there is no ordering
	// constraint on the outgoing path. Retried with backoff by the store,
	// abandoned when the session reaches a terminal state.
	pc.OnICECandidate(func(payload string) {
		p := record.Patch{AddCandidates: []record.Candidate{{Payload: payload, Side: s.side}}}
		if err := s.updateRecord(s.ctx, p); err != nil && !errors.Is(err, context.Canceled) {
			util.LogWarning("call %s: failed to publish candidate: %v", s.id, err)
		}
	})
	pc.OnTrack(func(stream media.Stream) {
		s.post(inboxMsg{remote: stream})
	})
	pc.OnStateChange(func(cs media.ConnState) {
		s.post(inboxMsg{conn: cs})
	})

	unsub, err := s.st.Subscribe(s.id, func(rec *record.CallRecord) {
		s.post(inboxMsg{snap: rec})
	})
	if err != nil {
		return err
	}
	s.unsub = unsub

	s.dog = newWatchdog(ringTimeout, func() {
		s.post(inboxMsg{timeout: true})
	})

	go s.run()
	return nil
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// ID returns the call ID.
func (s *Session) ID() string { return s.id }

// Side returns the fixed role of this endpoint.
func (s *Session) Side() record.Side { return s.side }

// Peer returns the resolved display identity of the remote party.
func (s *Session) Peer() identity.Identity { return s.remote }

// Status returns the last observed shared record status.
func (s *Session) Status() record.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// State returns the local lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Events returns the serialized event stream. It is closed after the
// terminal event; the consumer must drain it promptly.
func (s *Session) Events() <-chan Event { return s.events }

// Done returns a channel closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// RemoteStream returns the bound remote stream, or nil.
func (s *Session) RemoteStream() media.Stream { return s.media.Remote() }

// Accept lets the state machine proceed to answering. Callee only.
func (s *Session) Accept() error {
	if s.side != record.SideCallee {
		return ErrNotCallee
	}
	s.post(inboxMsg{cmd: cmdAccept})
	return nil
}

// Decline publishes a rejection and tears down. Callee only.
func (s *Session) Decline() error {
	if s.side != record.SideCallee {
		return ErrNotCallee
	}
	s.post(inboxMsg{cmd: cmdDecline})
	return nil
}

// HangUp publishes the end of the call and tears down. Either role; a
// no-op if the call is already over.
func (s *Session) HangUp() {
	s.post(inboxMsg{cmd: cmdHangUp})
}

// Retry re-runs the pending negotiation action after a reported
// negotiation failure. Safe: nothing was published by the failed attempt.
func (s *Session) Retry() {
	s.post(inboxMsg{cmd: cmdRetry})
}

// FlipCamera live-substitutes the video sender's track with the opposite
// camera. The media session serializes this internally; the audio sender
// and the connection stay untouched.
func (s *Session) FlipCamera(ctx context.Context) error {
	return s.media.FlipCamera(ctx)
}

// MuteAudio pauses or resumes the microphone sender.
func (s *Session) MuteAudio(muted bool) (bool, error) {
	return s.media.MuteAudio(muted)
}

// DisableVideo pauses or resumes the camera sender.
func (s *Session) DisableVideo(disabled bool) (bool, error) {
	return s.media.DisableVideo(disabled)
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

// post delivers a message to the event loop, giving up once the session
// shuts down.
func (s *Session) post(m inboxMsg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbox:
			s.handle(m)
			if s.finished {
				return
			}
		}
	}
}

func (s *Session) handle(m inboxMsg) {
	switch {
	case m.snap != nil:
		s.handleSnapshot(m.snap)

	case m.cmd == cmdAccept:
		s.machine.accepted = true
		if s.lastSnap != nil {
			s.negotiate(s.lastSnap)
		}

	case m.cmd == cmdDecline:
		s.publishFinal(record.StatusPatch(record.StatusRejected))
		s.finish(StateRejected)

	case m.cmd == cmdHangUp:
		s.publishFinal(record.StatusPatch(record.StatusEnded))
		s.finish(StateEnded)

	case m.cmd == cmdRetry:
		if s.lastSnap != nil {
			s.negotiate(s.lastSnap)
		}

	case m.timeout:
		s.handleTimeout()

	case m.remote != nil:
		if s.media.BindRemote(m.remote) {
			s.emit(Event{Kind: EventRemoteStream, Remote: m.remote})
		}

	case m.conn != "":
		s.handleConnState(m.conn)
	}
}

func (s *Session) handleSnapshot(rec *record.CallRecord) {
	s.lastSnap = rec

	if rec.Status != s.Status() {
		s.setStatus(rec.Status)
		s.emit(Event{Kind: EventStatus, Status: rec.Status, State: s.machine.state})
	}

	if rec.Status.Terminal() {
		s.finish(terminalStateFor(rec))
		return
	}
	if rec.Status == record.StatusConnected {
		s.dog.stop()
	}
	s.machine.observeStatus(rec.Status)

	s.negotiate(rec)

	// The remote description (if any) was applied above, so candidates from
	// this same snapshot apply directly; earlier ones were buffered and
	// flushed in arrival order.
	for _, c := range rec.CandidatesFrom(s.side.Other()) {
		s.buf.onRemote(c.Payload)
	}

	s.setState(s.machine.state)
}

// negotiate runs the state machine's one legal action for the snapshot.
// Failures keep the prior state; the action re-runs on the next snapshot or
// an explicit Retry.
func (s *Session) negotiate(rec *record.CallRecord) {
	wasApplied := s.machine.remoteApplied
	patch, err := s.machine.step(s.ctx, rec)

	if s.machine.remoteApplied && !wasApplied {
		s.buf.flushPending()
	}
	if err != nil {
		util.LogWarning("call %s (%s): negotiation failed: %v", s.id, s.side, err)
		return
	}
	if patch != nil {
		s.publish(*patch)
	}
	s.setState(s.machine.state)
}

func (s *Session) handleTimeout() {
	if s.machine.state == StateConnected || s.machine.state.Terminal() {
		return // answered or ended through a normal path first
	}
	s.publishTimeout()
	s.finish(StateTimedOut)
}

func (s *Session) handleConnState(cs media.ConnState) {
	if s.machine.state != StateConnected {
		return
	}
	if cs == media.ConnFailed || cs == media.ConnDisconnected {
		s.emit(Event{Kind: EventQuality, Conn: cs})
	}
}

// finish performs the terminal transition exactly once: stop the deadline,
// drop buffered candidates, tear down media, cancel outstanding work and
// close the event stream.
func (s *Session) finish(final State) {
	if s.finished {
		return
	}
	s.finished = true

	s.dog.stop()
	s.buf.discard()
	s.setState(final)
	if s.unsub != nil {
		s.unsub()
	}

	if err := s.media.Teardown(); err != nil {
		util.LogWarning("call %s: teardown: %v", s.id, err)
	}

	s.emitTerminal(Event{Kind: EventTerminal, State: final, Status: s.Status()})
	close(s.events)
	s.cancel()
	util.Stats.EndCall()

	util.LogInfo("call %s (%s): %s", s.id, s.side, final)
}

// terminalStateFor maps a terminal record status onto the local state.
func terminalStateFor(rec *record.CallRecord) State {
	if rec.Status == record.StatusRejected {
		if rec.AutoRejected {
			return StateTimedOut
		}
		return StateRejected
	}
	return StateEnded
}

// ---------------------------------------------------------------------------
// Publishing
// ---------------------------------------------------------------------------

// updateRecord publishes one merge to the store and counts it on success.
func (s *Session) updateRecord(ctx context.Context, p record.Patch) error {
	if err := s.st.Update(ctx, s.id, p); err != nil {
		return err
	}
	util.Stats.AddUpdate()
	return nil
}

// publish sends a merge update in the background, tied to the session
// lifetime: a terminal transition cancels it, which is safe — nothing
// local depends on the write having landed.
func (s *Session) publish(p record.Patch) {
	go func() {
		if err := s.updateRecord(s.ctx, p); err != nil && !errors.Is(err, context.Canceled) {
			util.LogWarning("call %s: failed to publish update: %v", s.id, err)
		}
	}()
}

// publishFinal sends a terminal merge update on a detached context so the
// session's own cancellation cannot abort it.
func (s *Session) publishFinal(p record.Patch) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go func() {
		defer cancel()
		if err := s.updateRecord(ctx, p); err != nil {
			util.LogWarning("call %s: failed to publish terminal update: %v", s.id, err)
		}
	}()
}

// publishTimeout resolves the establishment deadline against the shared
// record. The other side's {answer, connected} merge may still be in
// flight: a rejected write would then be dropped by the monotone merge and
// leave that side in-call, so a record found connected is ended instead.
// The check is repeated after the rejected write in case the answer landed
// in between.
func (s *Session) publishTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go func() {
		defer cancel()

		if s.endIfConnected(ctx) {
			return
		}
		auto := true
		rejected := record.StatusRejected
		if err := s.updateRecord(ctx, record.Patch{Status: &rejected, AutoRejected: &auto}); err != nil {
			util.LogWarning("call %s: failed to publish timeout: %v", s.id, err)
			return
		}
		s.endIfConnected(ctx)
	}()
}

// endIfConnected ends the call when the record shows it connected and
// reports whether it did.
func (s *Session) endIfConnected(ctx context.Context) bool {
	rec, err := s.st.Get(ctx, s.id)
	if err != nil || rec.Status != record.StatusConnected {
		return false
	}
	if err := s.updateRecord(ctx, record.StatusPatch(record.StatusEnded)); err != nil {
		util.LogWarning("call %s: failed to end connected call after deadline: %v", s.id, err)
	}
	return true
}

func (s *Session) setStatus(st record.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// emit delivers an event to the app without ever blocking the loop; a
// consumer that stops draining loses events rather than wedging the call.
func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		util.LogWarning("call %s: event stream full, dropping %s", s.id, e.Kind)
	}
}

// emitTerminal delivers the final event even when the consumer has stopped
// draining: instead of dropping it, the oldest queued event is discarded
// until there is room. The loop terminates because each pass either sends
// or removes one element and this goroutine is the only sender.
func (s *Session) emitTerminal(e Event) {
	for {
		select {
		case s.events <- e:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}
