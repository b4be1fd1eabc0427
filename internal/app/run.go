// Package app contains the top-level orchestration for the call, answer
// and serve roles.
package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/identity"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/record"
	"github.com/1ureka/peercall/internal/store"
	"github.com/1ureka/peercall/internal/util"
)

// newManager dials the record store and assembles the call orchestrator.
// The returned cleanup closes both.
func newManager(ctx context.Context, cfg config.Config) (*call.Manager, func(), error) {
	rs, err := store.Dial(ctx, cfg.StoreURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to record store: %w", err)
	}

	mgr, err := call.NewManager(call.Options{
		Store: rs,
		Media: newMediaSession,
		Self:  identity.Identity{ID: cfg.UserID, Name: cfg.UserName},
	})
	if err != nil {
		rs.Close()
		return nil, nil, err
	}

	cleanup := func() {
		mgr.Close()
		rs.Close()
	}
	return mgr, cleanup, nil
}

// newMediaSession builds one call's media stack: capture devices plus a
// peer connection created from the matching API.
func newMediaSession() (*media.Session, error) {
	dev, err := media.NewPionDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to set up capture devices: %w", err)
	}
	pc, err := media.NewPionConn(dev.API())
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return media.NewSession(pc, dev), nil
}

// driveSession prints the session's events and feeds stdin commands into it
// until the call reaches a terminal state or ctx is cancelled.
func driveSession(ctx context.Context, s *call.Session) {
	pterm.Println()
	pterm.Info.Println("commands: [h] hang up  [f] flip camera  [m] toggle mute  [v] toggle video  [r] retry")
	pterm.Println()

	go readCommands(ctx, s)

	for {
		select {
		case <-ctx.Done():
			s.HangUp()
			<-s.Done()
			return

		case ev, ok := <-s.Events():
			if !ok {
				<-s.Done()
				return
			}
			printEvent(s, ev)
		}
	}
}

// readCommands turns stdin lines into session operations.
func readCommands(ctx context.Context, s *call.Session) {
	var muted, videoOff bool

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		default:
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "h":
			s.HangUp()
			return
		case "f":
			if err := s.FlipCamera(ctx); err != nil {
				util.LogWarning("flip camera: %v", err)
			}
		case "m":
			state, err := s.MuteAudio(!muted)
			if err != nil {
				util.LogWarning("mute: %v", err)
				continue
			}
			muted = state
			util.LogInfo("microphone muted: %v", muted)
		case "v":
			state, err := s.DisableVideo(!videoOff)
			if err != nil {
				util.LogWarning("video: %v", err)
				continue
			}
			videoOff = state
			util.LogInfo("camera disabled: %v", videoOff)
		case "r":
			s.Retry()
		case "":
		default:
			util.LogWarning("unknown command (use h/f/m/v/r)")
		}
	}
}

func printEvent(s *call.Session, ev call.Event) {
	switch ev.Kind {
	case call.EventStatus:
		util.LogInfo("call %s: status %s", s.ID(), ev.Status)
		if ev.Status == record.StatusRinging && s.Side() == record.SideCallee {
			util.LogInfo("incoming call from %s", peerLabel(s))
		}

	case call.EventRemoteStream:
		util.LogSuccess("remote media from %s is flowing (%d tracks)",
			peerLabel(s), len(ev.Remote.Tracks()))

	case call.EventQuality:
		util.LogWarning("connection degraded: %s", ev.Conn)

	case call.EventTerminal:
		switch ev.State {
		case call.StateConnected, call.StateEnded:
			util.LogSuccess("call over: %s", ev.State)
		default:
			util.LogWarning("call over: %s", ev.State)
		}
	}
}

// peerLabel prefers the display name, falling back to the raw ID.
func peerLabel(s *call.Session) string {
	p := s.Peer()
	if p.Name != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.ID)
	}
	return p.ID
}
