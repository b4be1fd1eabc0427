package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/record"
)

// Compile-time interface checks.
var (
	_ media.PeerConn = (*stubConn)(nil)
	_ media.Devices  = (*stubDevices)(nil)
)

// stubConn implements media.PeerConn for in-process testing. Everything is
// recorded; callbacks can be fired manually to simulate the connection's own
// goroutines.
type stubConn struct {
	mu         sync.Mutex
	local      []record.SessionDescription
	remote     []record.SessionDescription
	candidates []string
	closes     int

	// failRemoteOnce makes the next SetRemoteDescription fail, simulating a
	// transient negotiation error.
	failRemoteOnce bool

	onICE   func(string)
	onTrack func(media.Stream)
	onState func(media.ConnState)
}

func (c *stubConn) CreateOffer(context.Context) (record.SessionDescription, error) {
	return record.SessionDescription{Type: "offer", SDP: "sdp-offer"}, nil
}

func (c *stubConn) CreateAnswer(context.Context) (record.SessionDescription, error) {
	return record.SessionDescription{Type: "answer", SDP: "sdp-answer"}, nil
}

func (c *stubConn) SetLocalDescription(_ context.Context, d record.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = append(c.local, d)
	return nil
}

func (c *stubConn) SetRemoteDescription(_ context.Context, d record.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRemoteOnce {
		c.failRemoteOnce = false
		return errors.New("transient negotiation failure")
	}
	c.remote = append(c.remote, d)
	return nil
}

func (c *stubConn) AddICECandidate(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, payload)
	return nil
}

func (c *stubConn) AddTrack(t media.Track) (media.Sender, error) {
	return &stubSender{cur: t}, nil
}

func (c *stubConn) Senders() []media.Sender { return nil }

func (c *stubConn) OnICECandidate(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *stubConn) OnTrack(fn func(media.Stream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *stubConn) OnStateChange(fn func(media.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// fireICE simulates the connection gathering a local candidate.
func (c *stubConn) fireICE(payload string) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// fireTrack simulates an inbound remote stream.
func (c *stubConn) fireTrack(s media.Stream) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// fireState simulates a connection state transition.
func (c *stubConn) fireState(cs media.ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(cs)
	}
}

func (c *stubConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.candidates...)
}

func (c *stubConn) remoteDescriptions() []record.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]record.SessionDescription(nil), c.remote...)
}

func (c *stubConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type stubTrack struct {
	id   string
	kind media.TrackKind

	mu    sync.Mutex
	stops int
}

func (t *stubTrack) ID() string            { return t.id }
func (t *stubTrack) Kind() media.TrackKind { return t.kind }
func (t *stubTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *stubTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type stubStream struct {
	id     string
	tracks []media.Track
}

func (s *stubStream) ID() string            { return s.id }
func (s *stubStream) Tracks() []media.Track { return s.tracks }

type stubSender struct {
	mu  sync.Mutex
	cur media.Track
}

func (s *stubSender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *stubSender) ReplaceTrack(t media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = t
	return nil
}

// stubDevices mints one audio and one video track per Acquire.
type stubDevices struct {
	mu       sync.Mutex
	serial   int
	failWith error
}

func (d *stubDevices) Acquire(_ context.Context, c media.Constraints) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	d.serial++

	var tracks []media.Track
	if c.Audio {
		tracks = append(tracks, &stubTrack{id: fmt.Sprintf("aud-%d", d.serial), kind: media.KindAudio})
	}
	if c.Video {
		tracks = append(tracks, &stubTrack{id: fmt.Sprintf("vid-%d", d.serial), kind: media.KindVideo})
	}
	return &stubStream{id: fmt.Sprintf("stream-%d", d.serial), tracks: tracks}, nil
}

// stubMediaFactory returns a MediaFactory handing out exactly one session
// built around the given fakes.
func stubMediaFactory(t *testing.T, pc *stubConn, dev *stubDevices) MediaFactory {
	t.Helper()
	used := false
	return func() (*media.Session, error) {
		require.False(t, used, "media factory invoked more than once")
		used = true
		return media.NewSession(pc, dev), nil
	}
}
