// Package v1 holds the session and cart synchronization logic for API version 1.
//
// Error Handling:
// Sentinel errors below are wrapped with context using fmt.Errorf("%w") when
// returned from logic methods. Failures coming back from the commerce API are
// reported as *StatusError, which carries one tagged Failure variant produced by
// Classify and matches the sentinels through errors.Is.
//
// Example Usage:
//
//	resp, err := pipeline.Do(ctx, req)
//	var se *logicv1.StatusError
//	if errors.As(err, &se) {
//	    switch f := se.Failure.(type) {
//	    case logicv1.Unauthorized:
//	        // f.Role has already been logged out or refreshed
//	    case logicv1.Forbidden, logicv1.ServerFault, logicv1.Other:
//	    }
//	}
//
// Error Checking (in handlers):
//
//	switch {
//	case errors.Is(err, logicv1.ErrUnauthorized):
//	    c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
//	case errors.Is(err, logicv1.ErrForbidden):
//	    c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
//	default:
//	    c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream error"})
//	}
package v1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// Sentinel errors for session and cart operations.
var (
	// ErrUnauthorized indicates the backend rejected the attached credential.
	// HTTP Status: 401 Unauthorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the credential is valid but lacks access.
	// HTTP Status: 403 Forbidden
	ErrForbidden = errors.New("access denied")

	// ErrServerFault indicates the backend answered with a 5xx status.
	// HTTP Status: 502 Bad Gateway
	ErrServerFault = errors.New("server error")

	// ErrUpstream indicates any other non-2xx answer from the backend.
	// HTTP Status: 502 Bad Gateway
	ErrUpstream = errors.New("upstream error")

	// ErrRefreshFailed indicates the customer refresh call failed; the
	// customer session has been cleared.
	// HTTP Status: 401 Unauthorized
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrNotLoggedIn indicates an operation needs a role that has no live token.
	// HTTP Status: 401 Unauthorized
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrRoleNotSupported indicates an operation is not available for the role
	// (for example registering an admin).
	// HTTP Status: 400 Bad Request
	ErrRoleNotSupported = errors.New("role not supported")

	// ErrInvalidQuantity indicates an add with a non-positive quantity.
	// HTTP Status: 400 Bad Request
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidProduct indicates an add without a product id.
	// HTTP Status: 400 Bad Request
	ErrInvalidProduct = errors.New("invalid product")

	// ErrLineNotFound indicates the cart has no line with the given id.
	// HTTP Status: 404 Not Found
	ErrLineNotFound = errors.New("cart line not found")
)

// Failure is the tagged variant Classify produces for a failed response.
// The concrete types are Unauthorized, Forbidden, ServerFault and Other.
type Failure interface {
	failure()
}

// Unauthorized is a 401 for the role that owns the request's namespace.
// Shared and customer namespaces report RoleCustomer.
type Unauthorized struct {
	Role domain.Role
}

// Forbidden is a 403.
type Forbidden struct{}

// ServerFault is any 5xx.
type ServerFault struct {
	Status int
}

// Other is any remaining failure; Message is what the backend said.
type Other struct {
	Status  int
	Message string
}

func (Unauthorized) failure() {}
func (Forbidden) failure()    {}
func (ServerFault) failure()  {}
func (Other) failure()        {}

// Classify maps a failed response to its Failure variant.
// scope is the role that owns the request path (see Resolver.Scope).
func Classify(status int, scope domain.Role, message string) Failure {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthorized{Role: scope}
	case status == http.StatusForbidden:
		return Forbidden{}
	case status >= http.StatusInternalServerError:
		return ServerFault{Status: status}
	default:
		return Other{Status: status, Message: message}
	}
}

// StatusError is returned by the Request Pipeline for any non-2xx response.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Failure Failure
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// Is lets errors.Is match a StatusError against the sentinels.
func (e *StatusError) Is(target error) bool {
	switch e.Failure.(type) {
	case Unauthorized:
		return target == ErrUnauthorized
	case Forbidden:
		return target == ErrForbidden
	case ServerFault:
		return target == ErrServerFault
	case Other:
		return target == ErrUpstream
	}
	return false
}
