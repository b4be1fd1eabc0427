package call

import (
	"sync"
	"time"
)

// DefaultRingTimeout is how long a call may stay unanswered before it is
// auto-rejected.
const DefaultRingTimeout = 30 * time.Second

// watchdog enforces the establishment deadline: a single timer armed when
// the session begins, firing fire() unless stopped first. The session stops
// it on entering Connected or any terminal state, so a normally ended call
// never sees a spurious late firing.
type watchdog struct {
	timer *time.Timer
	once  sync.Once
}

func newWatchdog(d time.Duration, fire func()) *watchdog {
	return &watchdog{timer: time.AfterFunc(d, fire)}
}

// stop cancels the deadline. Idempotent; safe after the timer fired.
func (w *watchdog) stop() {
	w.once.Do(func() { w.timer.Stop() })
}
