package store

import (
	"context"
	"sync"

	"github.com/1ureka/peercall/internal/record"
)

// Memory is an in-process Store. It is the authoritative state behind the
// record Server and the store used by the test suites. Records are kept
// until process exit; the core never deletes them.
type Memory struct {
	mu    sync.Mutex
	calls map[string]*memEntry
}

type memEntry struct {
	rec  *record.CallRecord
	subs map[*snapshotQueue]struct{}
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{calls: make(map[string]*memEntry)}
}

// Create writes a brand-new record.
func (m *Memory) Create(_ context.Context, rec *record.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[rec.ID]; ok {
		return ErrExists
	}
	m.calls[rec.ID] = &memEntry{
		rec:  rec.Clone(),
		subs: make(map[*snapshotQueue]struct{}),
	}
	return nil
}

// Get returns a snapshot of the record.
func (m *Memory) Get(_ context.Context, callID string) (*record.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Update merges the patch and fans the new snapshot out to every
// subscriber, including the writer's own subscription. A patch that
// changes nothing (all parts rejected by the merge invariants) produces
// no notification.
func (m *Memory) Update(_ context.Context, callID string, p record.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if !e.rec.Apply(p) {
		return nil
	}

	snap := e.rec.Clone()
	for q := range e.subs {
		q.push(snap)
	}
	return nil
}

// Subscribe registers fn and immediately delivers the current snapshot.
func (m *Memory) Subscribe(callID string, fn func(*record.CallRecord)) (func(), error) {
	m.mu.Lock()
	e, ok := m.calls[callID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	q := newSnapshotQueue(fn)
	e.subs[q] = struct{}{}
	q.push(e.rec.Clone())
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(e.subs, q)
		m.mu.Unlock()
		q.close()
	}
	return cancel, nil
}
