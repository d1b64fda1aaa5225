package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KVStore.Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KVStore is the durable key-value surface session tokens and the cart are
// persisted to. Keys are written independently; there are no transactions.
// Implementations live in internal/core/repository.
type KVStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// AuthAPI is the remote authentication surface.
// Login and Register are unauthenticated; Refresh relies on the ambient
// session cookie and only exists for the customer role.
type AuthAPI interface {
	Login(ctx context.Context, role Role, creds Credentials) (*AuthResult, error)
	Register(ctx context.Context, reg Registration) (*AuthResult, error)
	Refresh(ctx context.Context) (*AuthResult, error)
}

// CartAPI is the backend's eventually-consistent copy of the cart.
type CartAPI interface {
	GetCart(ctx context.Context) ([]CartLineItem, error)
	SyncCart(ctx context.Context, items []CartLineItem) error
}

// ProductAPI returns the authoritative product, including its variant prices.
type ProductAPI interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}

// NoticeKind classifies a user-facing notification.
type NoticeKind string

const (
	NoticeSessionExpired NoticeKind = "session_expired"
	NoticeAccessDenied   NoticeKind = "access_denied"
	NoticeServerError    NoticeKind = "server_error"
	NoticeError          NoticeKind = "error"
	NoticePriceChanged   NoticeKind = "price_changed"
)

// Notice is one message for the user. Redirect, when set, is the login
// surface the UI must navigate to.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Message  string     `json:"message"`
	Redirect string     `json:"redirect,omitempty"`
}

// Notifier is the fire-and-forget "show message" surface.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}
