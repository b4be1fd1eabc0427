package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{"", StatusRinging, true},
		{"", StatusConnected, false},
		{"", StatusEnded, false},
		{StatusRinging, StatusConnected, true},
		{StatusRinging, StatusRejected, true},
		{StatusRinging, StatusEnded, true},
		{StatusConnected, StatusEnded, true},
		{StatusConnected, StatusRinging, false},
		{StatusConnected, StatusRejected, false},
		{StatusRejected, StatusEnded, false},
		{StatusRejected, StatusRinging, false},
		{StatusEnded, StatusConnected, false},
		{StatusRinging, StatusRinging, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransition(c.from, c.to), "%q -> %q", c.from, c.to)
	}
}

func TestApplyStatusMonotone(t *testing.T) {
	r := &CallRecord{ID: "c1"}

	require.True(t, r.Apply(StatusPatch(StatusRinging)))
	require.True(t, r.Apply(StatusPatch(StatusConnected)))
	require.True(t, r.Apply(StatusPatch(StatusEnded)))
	assert.Equal(t, StatusEnded, r.Status)

	// Terminal status never moves again; the illegal part is dropped.
	assert.False(t, r.Apply(StatusPatch(StatusConnected)))
	assert.False(t, r.Apply(StatusPatch(StatusRinging)))
	assert.Equal(t, StatusEnded, r.Status)
}

func TestApplyWriteOnceDescriptions(t *testing.T) {
	r := &CallRecord{ID: "c1"}

	first := SessionDescription{Type: "offer", SDP: "sdp-1"}
	second := SessionDescription{Type: "offer", SDP: "sdp-2"}

	require.True(t, r.Apply(Patch{Offer: &first}))
	assert.False(t, r.Apply(Patch{Offer: &second}), "second offer write must be ignored")
	assert.Equal(t, "sdp-1", r.Offer.SDP)

	// An empty description never overwrites anything either.
	empty := SessionDescription{}
	assert.False(t, r.Apply(Patch{Offer: &empty}))
	assert.Equal(t, "sdp-1", r.Offer.SDP)

	answer := SessionDescription{Type: "answer", SDP: "sdp-a"}
	require.True(t, r.Apply(Patch{Answer: &answer}))
	assert.False(t, r.Apply(Patch{Answer: &first}))
	assert.Equal(t, "sdp-a", r.Answer.SDP)
}

func TestApplyAppendOnlyCandidates(t *testing.T) {
	r := &CallRecord{ID: "c1"}

	require.True(t, r.Apply(Patch{AddCandidates: []Candidate{
		{Payload: "a", Side: SideCaller},
		{Payload: "b", Side: SideCallee},
	}}))
	require.True(t, r.Apply(Patch{AddCandidates: []Candidate{
		{Payload: "c", Side: SideCaller},
	}}))

	assert.Equal(t, []Candidate{{Payload: "a", Side: SideCaller}, {Payload: "c", Side: SideCaller}},
		r.CandidatesFrom(SideCaller))
	assert.Equal(t, []Candidate{{Payload: "b", Side: SideCallee}},
		r.CandidatesFrom(SideCallee))
}

func TestApplyAutoRejectedSetOnce(t *testing.T) {
	r := &CallRecord{ID: "c1"}
	yes, no := true, false

	assert.False(t, r.Apply(Patch{AutoRejected: &no}), "false is the zero value, nothing to set")
	require.True(t, r.Apply(Patch{AutoRejected: &yes}))
	assert.False(t, r.Apply(Patch{AutoRejected: &yes}))
	assert.False(t, r.Apply(Patch{AutoRejected: &no}), "autoRejected can never be unset")
	assert.True(t, r.AutoRejected)
}

func TestApplyPartialPatch(t *testing.T) {
	r := &CallRecord{ID: "c1", Status: StatusRinging}

	// One patch carrying a rejected part and an accepted part: the merge
	// keeps the accepted part and drops the rest.
	connected := StatusConnected
	ringing := StatusRinging
	require.True(t, r.Apply(Patch{
		Status:        &connected,
		AddCandidates: []Candidate{{Payload: "x", Side: SideCallee}},
	}))
	assert.Equal(t, StatusConnected, r.Status)

	changed := r.Apply(Patch{
		Status:        &ringing, // illegal: connected -> ringing
		AddCandidates: []Candidate{{Payload: "y", Side: SideCallee}},
	})
	assert.True(t, changed, "candidate append still counts as a change")
	assert.Equal(t, StatusConnected, r.Status)
	assert.Len(t, r.CalleeCandidates, 2)
}

func TestCloneIsDeep(t *testing.T) {
	r := &CallRecord{
		ID:               "c1",
		CallerCandidates: []Candidate{{Payload: "a", Side: SideCaller}},
	}
	c := r.Clone()
	c.Apply(Patch{AddCandidates: []Candidate{{Payload: "b", Side: SideCaller}}})
	c.Status = StatusEnded

	assert.Len(t, r.CallerCandidates, 1)
	assert.Equal(t, Status(""), r.Status)
}

func TestSideOther(t *testing.T) {
	assert.Equal(t, SideCallee, SideCaller.Other())
	assert.Equal(t, SideCaller, SideCallee.Other())
}
