package call

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/record"
)

func TestCallerPublishesOfferOnce(t *testing.T) {
	ctx := context.Background()
	pc := &stubConn{}
	m := newMachine(record.SideCaller, pc)

	snap := &record.CallRecord{ID: "c1"}
	patch, err := m.step(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Equal(t, "sdp-offer", patch.Offer.SDP)
	assert.Equal(t, record.StatusRinging, *patch.Status)
	assert.Equal(t, StateOffering, m.state)

	// The store echoes the merged record back; no second offer is generated
	// even if the snapshot races ahead of the merge and still looks empty.
	patch, err = m.step(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, patch)
}

func TestCallerAppliesAnswerOnce(t *testing.T) {
	ctx := context.Background()
	pc := &stubConn{}
	m := newMachine(record.SideCaller, pc)

	snap := &record.CallRecord{ID: "c1"}
	_, err := m.step(ctx, snap)
	require.NoError(t, err)

	snap = &record.CallRecord{
		ID:     "c1",
		Status: record.StatusConnected,
		Offer:  record.SessionDescription{Type: "offer", SDP: "sdp-offer"},
		Answer: record.SessionDescription{Type: "answer", SDP: "sdp-answer"},
	}
	patch, err := m.step(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, patch)
	require.Len(t, pc.remoteDescriptions(), 1)

	// Every later snapshot replays the same answer; it is ignored.
	patch, err = m.step(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, patch)
	assert.Len(t, pc.remoteDescriptions(), 1)
}

func TestCalleeRingsUntilAccepted(t *testing.T) {
	ctx := context.Background()
	pc := &stubConn{}
	m := newMachine(record.SideCallee, pc)

	// No offer yet: nothing to do.
	patch, err := m.step(ctx, &record.CallRecord{ID: "c1"})
	require.NoError(t, err)
	assert.Nil(t, patch)
	assert.Equal(t, StateIdle, m.state)

	snap := &record.CallRecord{
		ID:     "c1",
		Status: record.StatusRinging,
		Offer:  record.SessionDescription{Type: "offer", SDP: "sdp-offer"},
	}
	patch, err = m.step(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, patch, "no answer before the user accepts")
	assert.Equal(t, StateRinging, m.state)
	assert.Empty(t, pc.remoteDescriptions())

	m.accepted = true
	patch, err = m.step(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Equal(t, "sdp-answer", patch.Answer.SDP)
	assert.Equal(t, record.StatusConnected, *patch.Status)
	require.Len(t, pc.remoteDescriptions(), 1)
	assert.Equal(t, "sdp-offer", pc.remoteDescriptions()[0].SDP)

	// Replayed snapshots after publishing are a no-op.
	snap.Answer = record.SessionDescription{Type: "answer", SDP: "sdp-answer"}
	patch, err = m.step(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, patch)
	assert.Len(t, pc.remoteDescriptions(), 1)
}

func TestCalleeRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	pc := &stubConn{failRemoteOnce: true}
	m := newMachine(record.SideCallee, pc)
	m.accepted = true

	snap := &record.CallRecord{
		ID:     "c1",
		Status: record.StatusRinging,
		Offer:  record.SessionDescription{Type: "offer", SDP: "sdp-offer"},
	}

	// First attempt fails; the guards stay down so nothing half-applied
	// blocks the retry.
	patch, err := m.step(ctx, snap)
	require.Error(t, err)
	assert.Nil(t, patch)
	assert.False(t, m.remoteApplied)
	assert.False(t, m.answerPublished)

	// Second attempt (next snapshot or explicit retry) succeeds.
	patch, err = m.step(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Equal(t, "sdp-answer", patch.Answer.SDP)
}

func TestObserveStatus(t *testing.T) {
	m := newMachine(record.SideCaller, &stubConn{})
	m.observeStatus(record.StatusConnected)
	assert.Equal(t, StateConnected, m.state)

	assert.True(t, StateRejected.Terminal())
	assert.True(t, StateEnded.Terminal())
	assert.True(t, StateTimedOut.Terminal())
	assert.False(t, StateConnected.Terminal())
}
