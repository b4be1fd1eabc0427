//go:build linux

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

// PionDevices captures camera/microphone via pion/mediadevices (V4L2 +
// malgo on Linux) and owns the webrtc.API whose media engine carries the
// matching VP8/Opus codecs.
type PionDevices struct {
	selector *mediadevices.CodecSelector
	api      *webrtc.API
}

// Compile-time interface check.
var _ Devices = (*PionDevices)(nil)

// NewPionDevices builds the codec selector, media engine and interceptors.
func NewPionDevices() (*PionDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	return &PionDevices{selector: selector, api: api}, nil
}

// API returns the webrtc.API whose media engine matches the capture codecs.
// PeerConns negotiating this device's tracks must be built from it.
func (d *PionDevices) API() *webrtc.API { return d.api }

// Acquire captures per the constraints. The camera facing is mapped onto
// the enumerated video inputs: front is the first device, back the second
// (falling back to the first on single-camera machines).
func (d *PionDevices) Acquire(_ context.Context, c Constraints) (Stream, error) {
	deviceID := ""
	if c.Video {
		deviceID = pickCamera(c.Facing)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG — some cameras expose an MJPEG V4L2 node that
			// produces malformed JPEG frames, which poisons the VP8 encoder.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: 640}
			mt.Height = prop.IntRanged{Max: 480}
			if deviceID != "" {
				mt.DeviceID = prop.String(deviceID)
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, &AcquisitionError{Err: fmt.Errorf("GetUserMedia: %w", err)}
	}

	tracks := make([]Track, 0, 2)
	for _, t := range stream.GetTracks() {
		kind := KindVideo
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			kind = KindAudio
		}
		tracks = append(tracks, NewCaptureTrack(t, kind, t.Close))
	}
	util.LogDebug("captured %d local tracks (facing=%s)", len(tracks), c.Facing)

	return NewCaptureStream(uuid.NewString(), tracks), nil
}

// pickCamera maps a facing mode onto the enumerated video inputs.
func pickCamera(facing Facing) string {
	var cams []mediadevices.MediaDeviceInfo
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind == mediadevices.VideoInput {
			cams = append(cams, info)
		}
	}
	switch {
	case len(cams) == 0:
		return ""
	case facing == FacingBack && len(cams) > 1:
		return cams[1].DeviceID
	default:
		return cams[0].DeviceID
	}
}
