package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/peercall/internal/identity"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/record"
	"github.com/1ureka/peercall/internal/store"
	"github.com/1ureka/peercall/internal/util"
)

// ErrCallOver is returned when joining a call that already reached a
// terminal state.
var ErrCallOver = errors.New("call already in a terminal state")

// MediaFactory builds the media session for one call: a fresh peer
// connection plus the capture devices. No process-wide connection exists;
// every call constructs and tears down its own.
type MediaFactory func() (*media.Session, error)

// Options configures a Manager.
type Options struct {
	Store    store.Store
	Media    MediaFactory
	Resolver identity.Resolver
	Self     identity.Identity

	// RingTimeout bounds call establishment; DefaultRingTimeout if zero.
	RingTimeout time.Duration
}

// Manager is the call orchestrator: it creates or joins one session per
// call ID and exposes the public call API to the surrounding application.
type Manager struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates the options and creates an orchestrator.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("manager requires a store")
	}
	if opts.Media == nil {
		return nil, errors.New("manager requires a media factory")
	}
	if opts.Self.ID == "" {
		return nil, errors.New("manager requires a self identity")
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.Static{}
	}
	if opts.RingTimeout == 0 {
		opts.RingTimeout = DefaultRingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}, nil
}

// StartCall creates a new call record with this endpoint as the caller and
// returns the live session. Media acquisition failure aborts before the
// record is created.
func (m *Manager) StartCall(ctx context.Context, calleeID string) (*Session, error) {
	callee, err := m.opts.Resolver.Resolve(ctx, calleeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve callee %s: %w", calleeID, err)
	}

	ms, err := m.prepareMedia(ctx)
	if err != nil {
		return nil, err
	}

	rec := &record.CallRecord{
		ID:           uuid.NewString(),
		CallerID:     m.opts.Self.ID,
		CalleeID:     callee.ID,
		CallerName:   m.opts.Self.Name,
		CalleeName:   callee.Name,
		CallerAvatar: m.opts.Self.Avatar,
		CalleeAvatar: callee.Avatar,
	}
	if err := m.opts.Store.Create(ctx, rec); err != nil {
		ms.Teardown()
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}

	return m.launch(ms, rec.ID, record.SideCaller, callee)
}

// JoinCall attaches to an existing call record as the callee.
func (m *Manager) JoinCall(ctx context.Context, callID string) (*Session, error) {
	rec, err := m.opts.Store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, ErrCallOver
	}

	caller := identity.Identity{
		ID:     rec.CallerID,
		Name:   rec.CallerName,
		Avatar: rec.CallerAvatar,
	}

	ms, err := m.prepareMedia(ctx)
	if err != nil {
		// The record exists but this side cannot produce media; end the
		// call so the caller is not left ringing until the deadline.
		var acq *media.AcquisitionError
		if errors.As(err, &acq) {
			ended := record.StatusEnded
			if uerr := m.opts.Store.Update(ctx, callID, record.Patch{Status: &ended}); uerr != nil {
				util.LogWarning("call %s: failed to mark ended after acquisition failure: %v", callID, uerr)
			}
		}
		return nil, err
	}

	return m.launch(ms, callID, record.SideCallee, caller)
}

// prepareMedia builds the per-call media session and binds local capture.
func (m *Manager) prepareMedia(ctx context.Context) (*media.Session, error) {
	ms, err := m.opts.Media()
	if err != nil {
		return nil, fmt.Errorf("failed to build media session: %w", err)
	}
	if _, err := ms.AcquireLocal(ctx, media.FacingFront); err != nil {
		ms.Teardown()
		return nil, err
	}
	if err := ms.BindTracks(); err != nil {
		ms.Teardown()
		return nil, err
	}
	return ms, nil
}

// launch registers and starts the session.
func (m *Manager) launch(ms *media.Session, callID string, side record.Side, remote identity.Identity) (*Session, error) {
	s := newSession(m.ctx, m.opts.Store, ms, callID, side, remote)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ms.Teardown()
		return nil, errors.New("manager closed")
	}
	m.sessions[callID] = s
	m.mu.Unlock()

	if err := s.begin(m.opts.RingTimeout); err != nil {
		m.remove(callID)
		ms.Teardown()
		return nil, fmt.Errorf("failed to start call session: %w", err)
	}

	go func() {
		<-s.Done()
		m.remove(callID)
	}()

	util.Stats.AddCall()
	util.LogInfo("call %s: %s session started (peer %s)", callID, side, remote.ID)
	return s, nil
}

// Session returns the active session for callID, if any.
func (m *Manager) Session(callID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[callID]
	m.mu.RUnlock()
	return s, ok
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}

// Close hangs up every active session and waits for their teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.HangUp()
	}
	for _, s := range sessions {
		<-s.Done()
	}
	m.cancel()
}
