//go:build !linux

package media

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PionDevices on non-Linux platforms cannot capture: pion/mediadevices
// needs platform drivers (V4L2/malgo) that this build carries on Linux
// only. Acquire always fails with an AcquisitionError; the API still
// registers default codecs so receive-only negotiation works.
type PionDevices struct {
	api *webrtc.API
}

// Compile-time interface check.
var _ Devices = (*PionDevices)(nil)

// NewPionDevices builds an API with default codecs and interceptors.
func NewPionDevices() (*PionDevices, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &PionDevices{api: api}, nil
}

// API returns the webrtc.API to build PeerConns from.
func (d *PionDevices) API() *webrtc.API { return d.api }

// Acquire always fails: no capture drivers on this platform.
func (d *PionDevices) Acquire(context.Context, Constraints) (Stream, error) {
	return nil, &AcquisitionError{Err: errors.New("media capture not supported on this platform")}
}
