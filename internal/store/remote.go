package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/record"
	"github.com/1ureka/peercall/internal/util"
)

// ErrClosed is returned for operations on a Remote whose connection has
// been closed.
var ErrClosed = errors.New("record store connection closed")

// Remote is a Store backed by a WebSocket connection to a record Server.
// Updates that fail transiently are retried with exponential backoff until
// they succeed or the passed context is cancelled.
type Remote struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *response
	subs    map[uint64]*snapshotQueue

	done chan struct{}
	once sync.Once
}

// Compile-time interface check.
var _ Store = (*Remote)(nil)

// Dial connects to a record server, e.g. ws://host:port/store.
func Dial(ctx context.Context, url string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record server: %w", err)
	}

	r := &Remote{
		conn:    conn,
		pending: make(map[uint64]chan *response),
		subs:    make(map[uint64]*snapshotQueue),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// Close tears down the connection and every subscription.
func (r *Remote) Close() error {
	r.once.Do(func() { close(r.done) })
	return r.conn.Close()
}

// readLoop routes results to waiting round-trips and snapshots to their
// subscription queues. It exits when the connection drops.
func (r *Remote) readLoop() {
	defer func() {
		r.once.Do(func() { close(r.done) })
		r.mu.Lock()
		for _, q := range r.subs {
			q.close()
		}
		r.subs = nil
		r.mu.Unlock()
	}()

	for {
		var resp response
		if err := r.conn.ReadJSON(&resp); err != nil {
			return
		}

		switch resp.Op {
		case opResult:
			r.mu.Lock()
			ch, ok := r.pending[resp.Seq]
			if ok {
				delete(r.pending, resp.Seq)
			}
			r.mu.Unlock()
			if ok {
				ch <- &resp
			}

		case opSnapshot:
			r.mu.Lock()
			q, ok := r.subs[resp.Sub]
			r.mu.Unlock()
			if ok && resp.Record != nil {
				q.push(resp.Record)
			}

		default:
			util.LogDebug("record store: unexpected message op %q", resp.Op)
		}
	}
}

// roundTrip sends one request and waits for its result. Send and receive
// failures are reported as transient.
func (r *Remote) roundTrip(ctx context.Context, req *request) (*response, error) {
	req.Seq = r.seq.Add(1)

	ch := make(chan *response, 1)
	r.mu.Lock()
	r.pending[req.Seq] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	err := r.conn.WriteJSON(req)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.Seq)
		r.mu.Unlock()
		return nil, &TransientError{Err: err}
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-r.done:
		return nil, ErrClosed
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.Seq)
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

// asError maps a wire error string back to a sentinel error.
func (resp *response) asError() error {
	switch resp.Error {
	case "":
		return nil
	case errStrNotFound:
		return ErrNotFound
	case errStrExists:
		return ErrExists
	default:
		return errors.New(resp.Error)
	}
}

// Create writes a brand-new record on the server.
func (r *Remote) Create(ctx context.Context, rec *record.CallRecord) error {
	resp, err := r.roundTrip(ctx, &request{Op: opCreate, Record: rec})
	if err != nil {
		return err
	}
	return resp.asError()
}

// Get returns a snapshot of the record from the server.
func (r *Remote) Get(ctx context.Context, callID string) (*record.CallRecord, error) {
	resp, err := r.roundTrip(ctx, &request{Op: opGet, CallID: callID})
	if err != nil {
		return nil, err
	}
	if err := resp.asError(); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// Update merges the patch on the server, retrying transient failures with
// exponential backoff. Retrying stops when ctx is cancelled (a terminal
// transition cancels all outstanding session work) and fails fast with
// ErrClosed once the connection is permanently gone.
func (r *Remote) Update(ctx context.Context, callID string, p record.Patch) error {
	attempt := func() error {
		resp, err := r.roundTrip(ctx, &request{Op: opUpdate, CallID: callID, Patch: &p})
		if err != nil {
			return err
		}
		return resp.asError()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until success, close or ctx cancellation
	return retryTransient(ctx, r.done, bo, attempt)
}

// retryTransient runs attempt under the given backoff policy, retrying only
// transient failures. It gives up permanently when the attempt reports a
// non-transient error, when the connection is gone (ErrClosed — checked
// before every attempt, so a dead link is never retried), or when ctx is
// cancelled.
func retryTransient(ctx context.Context, done <-chan struct{}, bo backoff.BackOff, attempt func() error) error {
	wrapped := func() error {
		select {
		case <-done:
			return backoff.Permanent(ErrClosed)
		default:
		}

		err := attempt()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrClosed):
			return backoff.Permanent(ErrClosed)
		case IsTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}

// Subscribe registers a server-side subscription; snapshots arrive through
// the shared read loop and are delivered in order per subscription.
func (r *Remote) Subscribe(callID string, fn func(*record.CallRecord)) (func(), error) {
	q := newSnapshotQueue(fn)

	req := &request{Op: opSubscribe, CallID: callID}
	req.Seq = r.seq.Add(1)
	subID := req.Seq

	ch := make(chan *response, 1)
	r.mu.Lock()
	if r.subs == nil {
		r.mu.Unlock()
		q.close()
		return nil, ErrClosed
	}
	r.pending[subID] = ch
	r.subs[subID] = q
	r.mu.Unlock()

	r.writeMu.Lock()
	err := r.conn.WriteJSON(req)
	r.writeMu.Unlock()
	if err != nil {
		r.dropSub(subID)
		q.close()
		return nil, &TransientError{Err: err}
	}

	select {
	case resp := <-ch:
		if err := resp.asError(); err != nil {
			r.dropSub(subID)
			q.close()
			return nil, err
		}
	case <-r.done:
		q.close()
		return nil, ErrClosed
	}

	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() {
			r.dropSub(subID)
			q.close()
			r.writeMu.Lock()
			_ = r.conn.WriteJSON(&request{Op: opUnsubscribe, Seq: r.seq.Add(1), Sub: subID})
			r.writeMu.Unlock()
		})
	}
	return cancel, nil
}

func (r *Remote) dropSub(subID uint64) {
	r.mu.Lock()
	delete(r.pending, subID)
	if r.subs != nil {
		delete(r.subs, subID)
	}
	r.mu.Unlock()
}
