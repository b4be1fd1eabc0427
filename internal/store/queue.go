package store

import (
	"sync"

	"github.com/1ureka/peercall/internal/record"
)

// snapshotQueue delivers record snapshots to a subscriber callback in FIFO
// order on a dedicated goroutine. Pushing never blocks the producer and
// never drops a snapshot; ordering per subscription is preserved.
type snapshotQueue struct {
	mu    sync.Mutex
	items []*record.CallRecord

	kick chan struct{} // cap 1, coalesced wake-up
	done chan struct{}
	once sync.Once
}

func newSnapshotQueue(fn func(*record.CallRecord)) *snapshotQueue {
	q := &snapshotQueue{
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.drain(fn)
	return q
}

// push enqueues a snapshot for delivery.
func (q *snapshotQueue) push(rec *record.CallRecord) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// close stops delivery. Snapshots already dequeued may still be delivered;
// safe to call multiple times.
func (q *snapshotQueue) close() {
	q.once.Do(func() { close(q.done) })
}

// drain is the single delivery goroutine.
func (q *snapshotQueue) drain(fn func(*record.CallRecord)) {
	for {
		select {
		case <-q.done:
			return
		case <-q.kick:
		}

		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			rec := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			select {
			case <-q.done:
				return
			default:
			}
			fn(rec)
		}
	}
}
