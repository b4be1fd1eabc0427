package app

import (
	"context"
	"errors"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/util"
)

// RunCall orchestrates the caller lifecycle:
//  1. Connect to the record store
//  2. Acquire local media, create the call record, start ringing
//  3. Print session events and feed stdin commands until the call is over
func RunCall(ctx context.Context, cfg config.Config) error {
	mgr, cleanup, err := newManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := mgr.StartCall(ctx, cfg.PeerID)
	if err != nil {
		var acq *media.AcquisitionError
		if errors.As(err, &acq) {
			util.LogError("camera/microphone unavailable — no call was placed: %v", acq.Err)
		}
		return err
	}

	util.StartStatsReporter(ctx)
	util.LogSuccess("calling %s — call ID %s", peerLabel(s), s.ID())
	pterm.Println("  (share this call ID with the other side: peercall -role answer -call " + s.ID() + ")")

	driveSession(ctx, s)
	return nil
}
