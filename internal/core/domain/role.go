package domain

import (
	"fmt"
	"strings"
)

// Role identifies one of the independent session identities the client can hold
// at the same time. Roles are never merged: each has its own token and profile.
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleSeller
	RoleCustomer
)

// Roles lists every role in resolution priority order (highest first).
var Roles = []Role{RoleAdmin, RoleSeller, RoleCustomer}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleSeller:
		return "seller"
	case RoleCustomer:
		return "customer"
	default:
		return "unknown"
	}
}

// ParseRole converts a role name ("admin", "seller", "customer") into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "seller":
		return RoleSeller, nil
	case "customer", "user":
		return RoleCustomer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
