package app

import (
	"context"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/util"
)

// RunAnswer orchestrates the callee lifecycle:
//  1. Connect to the record store and load the call record
//  2. Acquire local media and attach to the call
//  3. Prompt to accept or decline, then drive the session like the caller
func RunAnswer(ctx context.Context, cfg config.Config) error {
	mgr, cleanup, err := newManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := mgr.JoinCall(ctx, cfg.CallID)
	if err != nil {
		return err
	}

	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Accept", "Decline"}).
		WithDefaultText("Incoming call from " + peerLabel(s)).
		Show()
	pterm.Println()

	if strings.HasPrefix(choice, "Decline") {
		if err := s.Decline(); err != nil {
			return err
		}
		<-s.Done()
		util.LogInfo("call declined")
		return nil
	}

	if err := s.Accept(); err != nil {
		return err
	}
	util.StartStatsReporter(ctx)
	util.LogSuccess("answering call %s", s.ID())

	driveSession(ctx, s)
	return nil
}
