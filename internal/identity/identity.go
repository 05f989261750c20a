// Package identity implements caseledger session authentication.
//
// It provides:
//   - SessionIssuer, which issues and verifies HS256 session JWTs
//   - RequireSession, Gin middleware enforcing a Bearer session token
//   - RequireRole, Gin middleware restricting a route to given roles
package identity

import (
	"fmt"

	"github.com/jmerrifield20/caseledger/pkg/ids"
)

// Role is the kind of party a session belongs to.
type Role string

const (
	RoleLawyer  Role = "lawyer"
	RoleClient  Role = "client"
	RoleAuditor Role = "auditor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleLawyer, RoleClient, RoleAuditor:
		return true
	}
	return false
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Validate checks that the principal has a usable party ID and a known role.
func (p Principal) Validate() error {
	if err := ids.ValidateParty(p.ID); err != nil {
		return err
	}
	if !p.Role.Valid() {
		return fmt.Errorf("unknown role %q", p.Role)
	}
	return nil
}
