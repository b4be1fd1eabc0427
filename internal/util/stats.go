package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	ActiveCalls     atomic.Int64 // sessions currently live in this process
	EndedCalls      atomic.Int64 // cumulative count of sessions reaching a terminal state
	UpdatesSent     atomic.Int64 // cumulative record merges published to the store
	CandidatesAdded atomic.Int64 // cumulative remote ICE candidates applied
}

func (s *stats) AddCall()      { s.ActiveCalls.Add(1) }
func (s *stats) EndCall()      { s.ActiveCalls.Add(-1); s.EndedCalls.Add(1) }
func (s *stats) AddUpdate()    { s.UpdatesSent.Add(1) }
func (s *stats) AddCandidate() { s.CandidatesAdded.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 10 seconds while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevUpdates, prevCands int64
		for {
			select {
			case <-ticker.C:
				active := Stats.ActiveCalls.Load()
				ended := Stats.EndedCalls.Load()
				updates := Stats.UpdatesSent.Load()
				cands := Stats.CandidatesAdded.Load()

				if active > 0 || updates != prevUpdates || cands != prevCands {
					pterm.DefaultLogger.Info(formatStats(active, ended, updates-prevUpdates, cands-prevCands))
				}

				prevUpdates = updates
				prevCands = cands

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(active, ended, updates, cands int64) string {
	return fmt.Sprintf("Calls: %d live %d done | Merges: %2d | ICE: %2d",
		active,
		ended,
		updates,
		cands,
	)
}
