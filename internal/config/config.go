// Package config holds the CLI configuration types.
package config

// Role represents the user's chosen role (call, answer or serve).
type Role string

const (
	// RoleCall places a new call to a peer.
	RoleCall Role = "call"
	// RoleAnswer joins an existing call record as the callee.
	RoleAnswer Role = "answer"
	// RoleServe runs a standalone call-record store server.
	RoleServe Role = "serve"
)

// Config stores all parameters gathered from flags or the interactive
// CLI prompts.
type Config struct {
	Role     Role
	UserID   string // this endpoint's identity
	UserName string // optional display name
	PeerID   string // Call: the callee's identity
	CallID   string // Answer: the call record to join
	StoreURL string // Call/Answer: WebSocket URL of the record store
	Addr     string // Serve: listen address for the record store
}
