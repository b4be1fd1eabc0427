// Package record defines the shared call record exchanged through the
// signaling store, together with its merge semantics: write-once
// offer/answer, a monotone status graph, and append-only candidate lists.
package record

// Status is the wire-visible call status.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusRejected  Status = "rejected"
	StatusEnded     Status = "ended"
)

// Terminal reports whether no further status transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusEnded
}

// CanTransition reports whether from → to is an edge of the allowed status
// graph. A receiver observing an illegal transition ignores the update.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case "":
		// Initial write; only ringing starts a call.
		return to == StatusRinging
	case StatusRinging:
		return to == StatusConnected || to == StatusRejected || to == StatusEnded
	case StatusConnected:
		return to == StatusEnded
	default:
		return false
	}
}

// Side identifies which peer owns a record field or candidate.
type Side string

const (
	SideCaller Side = "caller"
	SideCallee Side = "callee"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideCaller {
		return SideCallee
	}
	return SideCaller
}

// SessionDescription is an opaque negotiation blob (SDP offer or answer).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Empty reports whether the description has not been written yet.
func (d SessionDescription) Empty() bool {
	return d.Type == "" && d.SDP == ""
}

// Candidate is one ICE candidate blob, partitioned by originating side.
// Payload is the JSON-encoded candidate as produced by the media layer.
type Candidate struct {
	Payload string `json:"payload"`
	Side    Side   `json:"originSide"`
}

// CallRecord is the shared mutable document representing one call. Both
// peers mutate it via field-level merge updates (Apply); it is never
// replaced wholesale.
type CallRecord struct {
	ID string `json:"id"`

	// Fixed at creation, never reassigned.
	CallerID     string `json:"callerId"`
	CalleeID     string `json:"calleeId"`
	CallerName   string `json:"callerName,omitempty"`
	CalleeName   string `json:"calleeName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	CalleeAvatar string `json:"calleeAvatar,omitempty"`

	Status Status             `json:"status"`
	Offer  SessionDescription `json:"offer,omitempty"`
	Answer SessionDescription `json:"answer,omitempty"`

	CallerCandidates []Candidate `json:"callerCandidates,omitempty"`
	CalleeCandidates []Candidate `json:"calleeCandidates,omitempty"`

	// Set at most once, true only when the establishment deadline forced
	// the rejection.
	AutoRejected bool `json:"autoRejected,omitempty"`
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (r *CallRecord) Clone() *CallRecord {
	c := *r
	c.CallerCandidates = append([]Candidate(nil), r.CallerCandidates...)
	c.CalleeCandidates = append([]Candidate(nil), r.CalleeCandidates...)
	return &c
}

// CandidatesFrom returns the candidate list appended by the given side.
func (r *CallRecord) CandidatesFrom(side Side) []Candidate {
	if side == SideCaller {
		return r.CallerCandidates
	}
	return r.CalleeCandidates
}

// Patch is a field-level merge update. Nil fields are left untouched, so
// concurrent writers touching disjoint fields never clobber each other.
type Patch struct {
	Status       *Status             `json:"status,omitempty"`
	Offer        *SessionDescription `json:"offer,omitempty"`
	Answer       *SessionDescription `json:"answer,omitempty"`
	AutoRejected *bool               `json:"autoRejected,omitempty"`

	// Candidates to append to the matching side's list.
	AddCandidates []Candidate `json:"addCandidates,omitempty"`
}

// StatusPatch is shorthand for a patch that only moves the status.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// Apply merges p into the record, enforcing the invariants:
//
//   - status moves only along the allowed graph (illegal edges ignored)
//   - offer and answer are write-once (a non-empty value is never replaced)
//   - candidate lists are append-only
//   - autoRejected is set at most once
//
// It reports whether any field actually changed. Rejected parts of a patch
// are dropped silently; merge never fails.
func (r *CallRecord) Apply(p Patch) bool {
	changed := false

	if p.Status != nil && CanTransition(r.Status, *p.Status) {
		r.Status = *p.Status
		changed = true
	}
	if p.Offer != nil && r.Offer.Empty() && !p.Offer.Empty() {
		r.Offer = *p.Offer
		changed = true
	}
	if p.Answer != nil && r.Answer.Empty() && !p.Answer.Empty() {
		r.Answer = *p.Answer
		changed = true
	}
	if p.AutoRejected != nil && *p.AutoRejected && !r.AutoRejected {
		r.AutoRejected = true
		changed = true
	}
	for _, c := range p.AddCandidates {
		if c.Side == SideCaller {
			r.CallerCandidates = append(r.CallerCandidates, c)
		} else {
			r.CalleeCandidates = append(r.CalleeCandidates, c)
		}
		changed = true
	}

	return changed
}
