package v1

import (
	"strings"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// Path namespaces owned by a single role.
const (
	AdminNamespace  = "/admin"
	SellerNamespace = "/seller"
)

// Login surfaces the UI is sent to when a role's session ends.
const (
	AdminLoginSurface    = "/admin/login"
	SellerLoginSurface   = "/seller/login"
	CustomerLoginSurface = "/login"
)

// Resolver decides which stored credential an outgoing request carries.
type Resolver struct {
	session *SessionContext
}

// NewResolver creates a Resolver reading live tokens from session.
func NewResolver(session *SessionContext) *Resolver {
	return &Resolver{session: session}
}

// Scope returns the role that owns path: RoleAdmin under /admin, RoleSeller
// under /seller and RoleCustomer for everything else (shared and customer
// endpoints), which is also the scope the 401 policy uses.
func Scope(path string) domain.Role {
	switch {
	case inNamespace(path, AdminNamespace):
		return domain.RoleAdmin
	case inNamespace(path, SellerNamespace):
		return domain.RoleSeller
	default:
		return domain.RoleCustomer
	}
}

// Resolve returns the role whose token must be attached to a request for path.
// Role-scoped namespaces always resolve to their role, logged in or not.
// Shared paths use the highest-priority live role (Admin > Seller > Customer).
// ok is false when nothing should be attached.
func (r *Resolver) Resolve(path string) (domain.Role, bool) {
	switch scope := Scope(path); scope {
	case domain.RoleAdmin, domain.RoleSeller:
		return scope, true
	}

	for _, role := range domain.Roles {
		if r.session.Has(role) {
			return role, true
		}
	}
	return 0, false
}

// LoginSurface returns where the UI must navigate when role's session ends.
func LoginSurface(role domain.Role) string {
	switch role {
	case domain.RoleAdmin:
		return AdminLoginSurface
	case domain.RoleSeller:
		return SellerLoginSurface
	default:
		return CustomerLoginSurface
	}
}

// inNamespace matches "/admin" and "/admin/..." but not "/administrators".
func inNamespace(path, ns string) bool {
	p := "/" + strings.TrimLeft(path, "/")
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return p == ns || strings.HasPrefix(p, ns+"/")
}
