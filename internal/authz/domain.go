// Package authz implements the authorization core: principal resolution from
// request credentials and permission evaluation against a static grant table.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Role is one of the fixed set of capability groupings.
type Role string

// Known roles. Capability sets are independent; nothing is inferred from
// ordering except that ADMIN holds a superset of all grants.
const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleEditor  Role = "EDITOR"
	RoleUser    Role = "USER"
)

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleEditor, RoleUser}
}

// ParseRole validates a stored role string.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch role {
	case RoleAdmin, RoleManager, RoleEditor, RoleUser:
		return role, nil
	}
	return "", fmt.Errorf("authz: unknown role %q", s)
}

// Resource identifies a protected resource kind.
type Resource string

const (
	ResourcePost    Resource = "post"
	ResourcePage    Resource = "page"
	ResourceEvent   Resource = "event"
	ResourceMenu    Resource = "menu"
	ResourceTicket  Resource = "ticket"
	ResourceUser    Resource = "user"
	ResourceSession Resource = "session"
)

// Action identifies an operation on a resource.
type Action string

const (
	ActionView        Action = "view"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionPublish     Action = "publish"
	ActionClose       Action = "close"
	ActionAssign      Action = "assign"
	ActionImpersonate Action = "impersonate"
)

// Principal is the resolved identity of the current caller. It is built per
// request from a validated credential and never persisted.
type Principal struct {
	UserID         int64
	Role           Role
	SessionToken   string
	ImpersonatorID int64
}

// Impersonated reports whether the principal runs under a forged identity.
func (p Principal) Impersonated() bool {
	return p.ImpersonatorID != 0
}

var (
	// ErrUnauthenticated is returned when no valid credential accompanies
	// the request. It is ordinary control flow, not a fault.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrDenied is returned for any tuple the grant table does not allow.
	// Callers cannot distinguish a missing capability from an ownership
	// mismatch.
	ErrDenied = errors.New("authz: not authorized")
)
