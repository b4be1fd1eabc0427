package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/peercall/internal/util"
)

// Session owns the media resources of one call: the local capture tracks,
// the first remote stream, and the peer connection itself. Teardown is
// guarded by a one-shot flag and is safe to invoke concurrently from every
// exit path (hang-up, remote termination, timeout).
type Session struct {
	pc  PeerConn
	dev Devices

	mu         sync.Mutex
	facing     Facing
	local      []Track // current local capture tracks
	remote     Stream  // first remote stream wins
	audioSend  Sender
	videoSend  Sender
	savedAudio Track // kept while audio is muted
	savedVideo Track // kept while video is disabled
	closed     bool

	teardownOnce sync.Once
	teardownErr  error
}

// NewSession creates a media session around the given connection and
// capture devices.
func NewSession(pc PeerConn, dev Devices) *Session {
	return &Session{pc: pc, dev: dev, facing: FacingFront}
}

// PeerConn exposes the wrapped connection for negotiation by the call core.
func (s *Session) PeerConn() PeerConn { return s.pc }

// AcquireLocal requests audio+video capture with the given camera facing
// and records the resulting tracks as the local stream.
func (s *Session) AcquireLocal(ctx context.Context, facing Facing) (Stream, error) {
	stream, err := s.dev.Acquire(ctx, Constraints{Audio: true, Video: true, Facing: facing})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.facing = facing
	s.local = append([]Track(nil), stream.Tracks()...)
	s.mu.Unlock()
	return stream, nil
}

// BindTracks attaches every local track to the connection as a send track.
func (s *Session) BindTracks() error {
	s.mu.Lock()
	tracks := append([]Track(nil), s.local...)
	s.mu.Unlock()

	for _, t := range tracks {
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("failed to bind %s track: %w", t.Kind(), err)
		}
		s.mu.Lock()
		switch t.Kind() {
		case KindAudio:
			s.audioSend = sender
		case KindVideo:
			s.videoSend = sender
		}
		s.mu.Unlock()
	}
	return nil
}

// BindRemote records the first remote stream observed. Later remote-stream
// notifications for the same call are ignored (2-party call, single remote
// stream). Reports whether the stream was recorded.
func (s *Session) BindRemote(stream Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.remote != nil {
		return false
	}
	s.remote = stream
	return true
}

// Remote returns the bound remote stream, or nil.
func (s *Session) Remote() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// FlipCamera re-acquires video capture with the opposite facing mode and
// live-substitutes the video sender's track. The audio sender is never
// touched and no renegotiation happens. The replaced capture track is
// stopped once the substitution succeeded.
func (s *Session) FlipCamera(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("media session already torn down")
	}
	target := s.facing.Flip()
	videoSend := s.videoSend
	s.mu.Unlock()

	if videoSend == nil {
		return errors.New("no video sender to flip")
	}

	stream, err := s.dev.Acquire(ctx, Constraints{Video: true, Facing: target})
	if err != nil {
		return err
	}

	var newVideo Track
	for _, t := range stream.Tracks() {
		if t.Kind() == KindVideo {
			newVideo = t
			break
		}
	}
	if newVideo == nil {
		return errors.New("capture returned no video track")
	}

	old := videoSend.Track()
	if err := videoSend.ReplaceTrack(newVideo); err != nil {
		newVideo.Stop()
		return fmt.Errorf("failed to replace video track: %w", err)
	}

	s.mu.Lock()
	s.facing = target
	for i, t := range s.local {
		if t.Kind() == KindVideo {
			s.local[i] = newVideo
		}
	}
	closed := s.closed
	s.mu.Unlock()

	if old != nil {
		if err := old.Stop(); err != nil {
			util.LogDebug("flip camera: stopping old video track: %v", err)
		}
	}
	if closed {
		// Torn down while we were re-acquiring; release the fresh track too.
		newVideo.Stop()
	}
	return nil
}

// MuteAudio pauses or resumes the audio sender by live-substituting a nil
// track. Returns the new muted state.
func (s *Session) MuteAudio(muted bool) (bool, error) {
	s.mu.Lock()
	sender := s.audioSend
	s.mu.Unlock()
	if sender == nil {
		return false, errors.New("no audio sender")
	}

	if muted {
		s.mu.Lock()
		if s.savedAudio == nil {
			s.savedAudio = sender.Track()
		}
		s.mu.Unlock()
		return true, sender.ReplaceTrack(nil)
	}

	s.mu.Lock()
	saved := s.savedAudio
	s.savedAudio = nil
	s.mu.Unlock()
	if saved == nil {
		return false, nil
	}
	return false, sender.ReplaceTrack(saved)
}

// DisableVideo pauses or resumes the video sender the same way MuteAudio
// pauses audio. Returns the new disabled state.
func (s *Session) DisableVideo(disabled bool) (bool, error) {
	s.mu.Lock()
	sender := s.videoSend
	s.mu.Unlock()
	if sender == nil {
		return false, errors.New("no video sender")
	}

	if disabled {
		s.mu.Lock()
		if s.savedVideo == nil {
			s.savedVideo = sender.Track()
		}
		s.mu.Unlock()
		return true, sender.ReplaceTrack(nil)
	}

	s.mu.Lock()
	saved := s.savedVideo
	s.savedVideo = nil
	s.mu.Unlock()
	if saved == nil {
		return false, nil
	}
	return false, sender.ReplaceTrack(saved)
}

// Teardown stops every local track, closes the connection and releases the
// remote stream reference. Idempotent: every invocation after the first is
// a no-op returning the first result, so racing exit paths (user hang-up,
// remote termination, timeout) are all safe.
func (s *Session) Teardown() error {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		tracks := s.local
		s.local = nil
		s.remote = nil
		// Saved (muted) tracks are the same handles still listed in local,
		// so stopping local covers them.
		s.savedAudio = nil
		s.savedVideo = nil
		s.mu.Unlock()

		var errs []error
		for _, t := range tracks {
			if err := t.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.pc.Close(); err != nil {
			errs = append(errs, err)
		}
		s.teardownErr = errors.Join(errs...)
	})
	return s.teardownErr
}
