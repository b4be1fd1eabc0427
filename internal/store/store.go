// Package store provides the signaling store: a remotely shared, mutable
// call record per call ID, updated with field-level merges and observed
// through ordered snapshot subscriptions.
//
// Two implementations are provided: Memory (in-process, also the backing
// state of the record server) and Remote (a WebSocket client talking to a
// Server). The call core depends only on the Store interface.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/peercall/internal/record"
)

// ErrNotFound is returned by Get and Update for an unknown call ID.
var ErrNotFound = errors.New("call record not found")

// ErrExists is returned by Create when the call ID is already taken.
var ErrExists = errors.New("call record already exists")

// TransientError marks a failure the caller may retry (network hiccup,
// store temporarily unreachable).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient store error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Store is the signaling store adapter consumed by the call core.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create writes a brand-new record. Fails with ErrExists on ID collision.
	Create(ctx context.Context, rec *record.CallRecord) error

	// Get returns a snapshot of the record, or ErrNotFound.
	Get(ctx context.Context, callID string) (*record.CallRecord, error)

	// Update merges a partial patch into the record. Concurrent updates to
	// disjoint fields never clobber each other. May fail with a
	// TransientError; the caller decides whether to retry.
	Update(ctx context.Context, callID string, p record.Patch) error

	// Subscribe registers fn for every merged snapshot of the record,
	// including those caused by the subscriber's own updates. Snapshots are
	// delivered in merge order on a single goroutine per subscription; the
	// current state is delivered first. The returned cancel is idempotent.
	Subscribe(callID string, fn func(*record.CallRecord)) (cancel func(), err error)
}
