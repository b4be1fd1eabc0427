package store

import "github.com/1ureka/peercall/internal/record"

// op identifies the kind of store protocol message.
type op string

const (
	opCreate      op = "create"
	opGet         op = "get"
	opUpdate      op = "update"
	opSubscribe   op = "subscribe"
	opUnsubscribe op = "unsubscribe"

	opResult   op = "result"
	opSnapshot op = "snapshot"
)

// Wire-level error strings, mapped back to sentinel errors by the client.
const (
	errStrNotFound = "not found"
	errStrExists   = "exists"
)

// request is the JSON structure sent from a Remote client to the Server.
type request struct {
	Op     op                 `json:"op"`
	Seq    uint64             `json:"seq"`
	CallID string             `json:"callId,omitempty"`
	Record *record.CallRecord `json:"record,omitempty"` // create
	Patch  *record.Patch      `json:"patch,omitempty"`  // update
	Sub    uint64             `json:"sub,omitempty"`    // unsubscribe
}

// response is the JSON structure sent from the Server to a Remote client.
// Results echo the request Seq; snapshots carry the subscription ID they
// belong to (the Seq of the originating subscribe request).
type response struct {
	Op     op                 `json:"op"`
	Seq    uint64             `json:"seq,omitempty"`
	Sub    uint64             `json:"sub,omitempty"`
	Record *record.CallRecord `json:"record,omitempty"`
	Error  string             `json:"error,omitempty"`
}
