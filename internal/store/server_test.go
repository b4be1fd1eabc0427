package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/record"
)

// startTestServer starts a record server on loopback and returns the port.
func startTestServer(t *testing.T) int {
	t.Helper()
	srv := NewServer()
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return port
}

// dialClient connects one Remote to the test server.
func dialClient(t *testing.T, port int) *Remote {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d/store", port))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := dialClient(t, startTestServer(t))

	rec := &record.CallRecord{ID: "c1", CallerID: "alice", CalleeID: "bob"}
	require.NoError(t, r.Create(ctx, rec))
	assert.ErrorIs(t, r.Create(ctx, rec), ErrExists)

	_, err := r.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := r.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CallerID)

	require.NoError(t, r.Update(ctx, "c1", record.StatusPatch(record.StatusRinging)))
	got, err = r.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusRinging, got.Status)

	assert.ErrorIs(t, r.Update(ctx, "nope", record.StatusPatch(record.StatusRinging)), ErrNotFound)
}

func TestRemoteSubscribeAcrossClients(t *testing.T) {
	ctx := context.Background()
	port := startTestServer(t)
	writer := dialClient(t, port)
	watcher := dialClient(t, port)

	require.NoError(t, writer.Create(ctx, &record.CallRecord{ID: "c1"}))

	ch, cancel := collectSnapshots(t, watcher, "c1")
	defer cancel()

	// Initial state arrives first.
	assert.Equal(t, record.Status(""), nextSnapshot(t, ch).Status)

	// A merge by one client reaches the other client's subscription.
	offer := record.SessionDescription{Type: "offer", SDP: "sdp-o"}
	ringing := record.StatusRinging
	require.NoError(t, writer.Update(ctx, "c1", record.Patch{Offer: &offer, Status: &ringing}))

	snap := nextSnapshot(t, ch)
	assert.Equal(t, record.StatusRinging, snap.Status)
	assert.Equal(t, "sdp-o", snap.Offer.SDP)

	// Unsubscribing stops delivery.
	cancel()
	require.NoError(t, writer.Update(ctx, "c1", record.StatusPatch(record.StatusConnected)))
	select {
	case rec, ok := <-ch:
		if ok {
			t.Fatalf("unexpected snapshot after unsubscribe: %+v", rec)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoteSubscribeUnknownCall(t *testing.T) {
	r := dialClient(t, startTestServer(t))
	_, err := r.Subscribe("nope", func(*record.CallRecord) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteClosedConnection(t *testing.T) {
	ctx := context.Background()
	r := dialClient(t, startTestServer(t))
	require.NoError(t, r.Close())

	err := r.Create(ctx, &record.CallRecord{ID: "c1"})
	assert.Error(t, err)
}

func TestRemoteUpdateFailsFastAfterClose(t *testing.T) {
	r := dialClient(t, startTestServer(t))
	require.NoError(t, r.Create(context.Background(), &record.CallRecord{ID: "c1"}))
	require.NoError(t, r.Close())

	// No backing off against a connection that is permanently gone: the
	// update must not burn the caller's deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	err := r.Update(ctx, "c1", record.StatusPatch(record.StatusRinging))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryTransientEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := retryTransient(context.Background(), make(chan struct{}),
		backoff.NewConstantBackOff(time.Millisecond), func() error {
			attempts++
			if attempts < 3 {
				return &TransientError{Err: errors.New("flaky link")}
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryTransientAbandonedOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retryTransient(ctx, make(chan struct{}),
		backoff.NewConstantBackOff(10*time.Millisecond), func() error {
			attempts++
			return &TransientError{Err: errors.New("still down")}
		})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts, 1)
}

func TestRetryTransientPermanentError(t *testing.T) {
	attempts := 0
	err := retryTransient(context.Background(), make(chan struct{}),
		backoff.NewConstantBackOff(time.Millisecond), func() error {
			attempts++
			return ErrNotFound
		})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, attempts)
}

func TestRetryTransientClosedBeforeAttempt(t *testing.T) {
	done := make(chan struct{})
	close(done)

	err := retryTransient(context.Background(), done,
		backoff.NewConstantBackOff(time.Millisecond), func() error {
			t.Error("attempt ran on a closed connection")
			return nil
		})
	assert.ErrorIs(t, err, ErrClosed)
}
