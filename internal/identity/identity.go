// Package identity is the boundary to the identity collaborator: it
// resolves a user ID to the display metadata written into a call record.
// Resolution completes before a call starts or is joined; this package
// performs no lookups of its own beyond what the configured resolver does.
package identity

import (
	"context"
)

// Identity is the resolved display metadata for one user.
type Identity struct {
	ID     string
	Name   string
	Avatar string
}

// Resolver resolves a user ID to its display identity.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Identity, error)
}

// Static is a fixed in-memory Resolver, used by the CLI and in tests.
type Static map[string]Identity

// Compile-time interface check.
var _ Resolver = (Static)(nil)

// Resolve returns the stored identity, or a bare one carrying only the ID
// when the user is unknown.
func (s Static) Resolve(_ context.Context, userID string) (Identity, error) {
	if id, ok := s[userID]; ok {
		return id, nil
	}
	return Identity{ID: userID}, nil
}
