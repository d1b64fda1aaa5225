package domain

import "encoding/json"

// Profile is the identity payload returned alongside a token.
// Role-specific fields the client does not interpret are kept in Extra.
type Profile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Username string          `json:"username,omitempty"`
	Extra    json.RawMessage `json:"extra,omitempty"`
}

// SessionToken is one live credential for a role.
// Value is opaque; the client never inspects its shape.
type SessionToken struct {
	Role    Role
	Value   string
	Profile Profile
}

// Credentials are forwarded as-is to the role's login endpoint.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// Registration carries the customer sign-up payload.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is the body every login, register and refresh endpoint returns.
type AuthResult struct {
	Token string  `json:"token"`
	User  Profile `json:"user"`
}
