package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// ClearHook runs after a role's credential has been removed.
type ClearHook func(ctx context.Context, role domain.Role)

// SessionContext is the credential store: one optional SessionToken per role,
// persisted to a KVStore under per-role keys and cached in memory.
//
// Roles are partitioned; writing or clearing one role never touches another.
// It is passed explicitly to the pipeline, the auth service and the cart.
type SessionContext struct {
	store domain.KVStore

	mu     sync.RWMutex
	tokens map[domain.Role]domain.SessionToken

	hooksMu sync.RWMutex
	onClear map[domain.Role][]ClearHook
}

// NewSessionContext creates an empty SessionContext backed by store.
// Call Restore to load the tokens persisted by a previous run.
func NewSessionContext(store domain.KVStore) *SessionContext {
	return &SessionContext{
		store:   store,
		tokens:  make(map[domain.Role]domain.SessionToken),
		onClear: make(map[domain.Role][]ClearHook),
	}
}

func tokenKey(role domain.Role) string   { return "session:" + role.String() + ":token" }
func profileKey(role domain.Role) string { return "session:" + role.String() + ":profile" }

// Restore loads every role from the store. A role whose token or profile
// cannot be read is left logged out.
func (s *SessionContext) Restore(ctx context.Context) error {
	var errs []error
	for _, role := range domain.Roles {
		tok, err := s.load(ctx, role)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				errs = append(errs, fmt.Errorf("restore %s: %w", role, err))
			}
			continue
		}

		s.mu.Lock()
		s.tokens[role] = tok
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *SessionContext) load(ctx context.Context, role domain.Role) (domain.SessionToken, error) {
	value, err := s.store.Get(ctx, tokenKey(role))
	if err != nil {
		return domain.SessionToken{}, err
	}
	if len(value) == 0 {
		return domain.SessionToken{}, domain.ErrNotFound
	}

	tok := domain.SessionToken{Role: role, Value: string(value)}

	raw, err := s.store.Get(ctx, profileKey(role))
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return domain.SessionToken{}, err
	default:
		if err := json.Unmarshal(raw, &tok.Profile); err != nil {
			log.Warn().Err(err).Str("role", role.String()).Msg("Discarding unreadable profile")
		}
	}
	return tok, nil
}

// Set replaces the role's token and profile, in memory first and then in the
// store. Other roles are untouched. The token shape is not validated.
func (s *SessionContext) Set(ctx context.Context, role domain.Role, token string, profile domain.Profile) error {
	s.mu.Lock()
	s.tokens[role] = domain.SessionToken{Role: role, Value: token, Profile: profile}
	s.mu.Unlock()

	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal %s profile: %w", role, err)
	}
	if err := s.store.Set(ctx, tokenKey(role), []byte(token)); err != nil {
		return fmt.Errorf("persist %s token: %w", role, err)
	}
	if err := s.store.Set(ctx, profileKey(role), raw); err != nil {
		return fmt.Errorf("persist %s profile: %w", role, err)
	}
	return nil
}

// Get returns the role's live token. It never fails; ok is false when the
// role is logged out.
func (s *SessionContext) Get(role domain.Role) (domain.SessionToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[role]
	return tok, ok
}

// Has reports whether the role has a live token.
func (s *SessionContext) Has(role domain.Role) bool {
	_, ok := s.Get(role)
	return ok
}

// Clear removes the role's token and profile and then runs the role's clear
// hooks (the cart registers one for the customer role). Store failures are
// logged: the in-memory session is already gone.
func (s *SessionContext) Clear(ctx context.Context, role domain.Role) {
	s.mu.Lock()
	delete(s.tokens, role)
	s.mu.Unlock()

	for _, key := range []string{tokenKey(role), profileKey(role)} {
		if err := s.store.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("role", role.String()).Str("key", key).Msg("Failed to delete credential")
		}
	}

	s.hooksMu.RLock()
	hooks := append([]ClearHook(nil), s.onClear[role]...)
	s.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, role)
	}
}

// OnClear registers a hook that runs every time role is cleared.
func (s *SessionContext) OnClear(role domain.Role, hook ClearHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onClear[role] = append(s.onClear[role], hook)
}

// Snapshot returns the live tokens keyed by role.
func (s *SessionContext) Snapshot() map[domain.Role]domain.SessionToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Role]domain.SessionToken, len(s.tokens))
	for role, tok := range s.tokens {
		out[role] = tok
	}
	return out
}
