package media

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/record"
)

// ICE servers for candidate gathering: Google STUN plus an open TURN relay
// so calls survive symmetric NATs.
var iceServers = []webrtc.ICEServer{
	{URLs: []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	}},
	{
		URLs:       []string{"turn:openrelay.metered.ca:80"},
		Username:   "openrelayproject",
		Credential: "openrelayproject",
	},
}

// PionConn adapts *webrtc.PeerConnection to the PeerConn surface.
type PionConn struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	streams map[string]*remoteStream
	onTrack func(Stream)
}

// Compile-time interface check.
var _ PeerConn = (*PionConn)(nil)

// NewPionConn creates a PeerConn backed by pion/webrtc. api carries the
// platform's media engine (codecs populated by the capture layer); nil
// falls back to pion's default API.
func NewPionConn(api *webrtc.API) (*PionConn, error) {
	cfg := webrtc.Configuration{ICEServers: iceServers}

	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, err
	}

	c := &PionConn{pc: pc, streams: make(map[string]*remoteStream)}

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.mu.Lock()
		st, ok := c.streams[tr.StreamID()]
		if !ok {
			st = &remoteStream{id: tr.StreamID()}
			c.streams[tr.StreamID()] = st
		}
		st.add(&remoteTrack{tr: tr})
		fn := c.onTrack
		c.mu.Unlock()

		if !ok && fn != nil {
			fn(st)
		}
	})

	return c, nil
}

func toPionSDP(d record.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromPionSDP(d webrtc.SessionDescription) record.SessionDescription {
	return record.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func (c *PionConn) CreateOffer(context.Context) (record.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return record.SessionDescription{}, err
	}
	return fromPionSDP(offer), nil
}

func (c *PionConn) CreateAnswer(context.Context) (record.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return record.SessionDescription{}, err
	}
	return fromPionSDP(answer), nil
}

func (c *PionConn) SetLocalDescription(_ context.Context, d record.SessionDescription) error {
	return c.pc.SetLocalDescription(toPionSDP(d))
}

func (c *PionConn) SetRemoteDescription(_ context.Context, d record.SessionDescription) error {
	return c.pc.SetRemoteDescription(toPionSDP(d))
}

func (c *PionConn) AddICECandidate(payload string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &init); err != nil {
		return err
	}
	return c.pc.AddICECandidate(init)
}

func (c *PionConn) AddTrack(t Track) (Sender, error) {
	ct, ok := t.(*CaptureTrack)
	if !ok {
		return nil, errors.New("track was not produced by this capture layer")
	}
	s, err := c.pc.AddTrack(ct.local)
	if err != nil {
		return nil, err
	}
	return &pionSender{s: s, cur: t}, nil
}

func (c *PionConn) Senders() []Sender {
	raw := c.pc.GetSenders()
	out := make([]Sender, 0, len(raw))
	for _, s := range raw {
		out = append(out, &pionSender{s: s})
	}
	return out
}

func (c *PionConn) OnICECandidate(fn func(payload string)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // end of gathering
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		fn(string(data))
	})
}

func (c *PionConn) OnTrack(fn func(Stream)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *PionConn) OnStateChange(fn func(ConnState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(toConnState(s))
	})
}

func (c *PionConn) Close() error {
	return c.pc.Close()
}

func toConnState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}

// ---------------------------------------------------------------------------
// Track / stream wrappers
// ---------------------------------------------------------------------------

// CaptureTrack wraps a local capture track (a webrtc.TrackLocal plus its
// release function) for binding to a PionConn.
type CaptureTrack struct {
	local webrtc.TrackLocal
	kind  TrackKind
	stop  func() error

	stopOnce sync.Once
	stopErr  error
}

// NewCaptureTrack is used by the capture layer to hand a local track to the
// connection. stop releases the underlying device; nil means no-op.
func NewCaptureTrack(local webrtc.TrackLocal, kind TrackKind, stop func() error) *CaptureTrack {
	return &CaptureTrack{local: local, kind: kind, stop: stop}
}

func (t *CaptureTrack) ID() string      { return t.local.ID() }
func (t *CaptureTrack) Kind() TrackKind { return t.kind }

// Stop releases the capture device. Idempotent.
func (t *CaptureTrack) Stop() error {
	t.stopOnce.Do(func() {
		if t.stop != nil {
			t.stopErr = t.stop()
		}
	})
	return t.stopErr
}

// CaptureStream bundles capture tracks.
type CaptureStream struct {
	id     string
	tracks []Track
}

// NewCaptureStream is used by the capture layer.
func NewCaptureStream(id string, tracks []Track) *CaptureStream {
	return &CaptureStream{id: id, tracks: tracks}
}

func (s *CaptureStream) ID() string      { return s.id }
func (s *CaptureStream) Tracks() []Track { return append([]Track(nil), s.tracks...) }

type pionSender struct {
	s *webrtc.RTPSender

	mu  sync.Mutex
	cur Track
}

func (p *pionSender) Track() Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

func (p *pionSender) ReplaceTrack(t Track) error {
	if t == nil {
		if err := p.s.ReplaceTrack(nil); err != nil {
			return err
		}
		p.mu.Lock()
		p.cur = nil
		p.mu.Unlock()
		return nil
	}

	ct, ok := t.(*CaptureTrack)
	if !ok {
		return errors.New("track was not produced by this capture layer")
	}
	if err := p.s.ReplaceTrack(ct.local); err != nil {
		return err
	}
	p.mu.Lock()
	p.cur = t
	p.mu.Unlock()
	return nil
}

type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string { return t.tr.ID() }

func (t *remoteTrack) Kind() TrackKind {
	if t.tr.Kind() == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

// Stop is a no-op: remote tracks are owned by the sending peer.
func (t *remoteTrack) Stop() error { return nil }

// Raw exposes the underlying remote track for consumers that read RTP.
func (t *remoteTrack) Raw() *webrtc.TrackRemote { return t.tr }

type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []Track
}

func (s *remoteStream) add(t Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}
