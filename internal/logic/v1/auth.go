package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/storefront-sync/internal/core/domain"
	"github.com/duynhne/storefront-sync/middleware"
)

var (
	// ErrInvalidCredentials indicates the backend rejected a login or registration.
	// HTTP Status: 401 Unauthorized
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists indicates the backend refused a registration as a duplicate.
	// HTTP Status: 409 Conflict
	ErrUserExists = errors.New("user already exists")
)

// LoginHook runs after a successful login transition for a role.
type LoginHook func(ctx context.Context, tok domain.SessionToken)

// AuthService drives login, registration and logout for the three roles.
// It depends on the remote auth API and the SessionContext (injected via
// constructor) and never reads tokens from anywhere else.
type AuthService struct {
	api     domain.AuthAPI
	session *SessionContext
	onLogin map[domain.Role][]LoginHook
}

// NewAuthService creates a new AuthService.
func NewAuthService(api domain.AuthAPI, session *SessionContext) *AuthService {
	return &AuthService{
		api:     api,
		session: session,
		onLogin: make(map[domain.Role][]LoginHook),
	}
}

// OnLogin registers a hook that runs after each successful login of role.
// Hooks are registered during wiring, before the service is used.
func (s *AuthService) OnLogin(role domain.Role, hook LoginHook) {
	s.onLogin[role] = append(s.onLogin[role], hook)
}

// Login signs role in. A previous token of the same role is replaced; the
// other roles are untouched.
func (s *AuthService) Login(ctx context.Context, role domain.Role, creds domain.Credentials) (*domain.SessionToken, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.login", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("role", role.String()),
	))
	defer span.End()

	res, err := s.api.Login(ctx, role, creds)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("auth.success", false))
		return nil, fmt.Errorf("login %s: %w", role, authError(err))
	}

	tok, err := s.establish(ctx, role, res)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("login %s: %w", role, err)
	}

	span.SetAttributes(
		attribute.String("user.id", tok.Profile.ID),
		attribute.Bool("auth.success", true),
	)
	span.AddEvent("session.established")
	return tok, nil
}

// Register creates a customer account and signs it in.
func (s *AuthService) Register(ctx context.Context, reg domain.Registration) (*domain.SessionToken, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.register", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("username", reg.Username),
	))
	defer span.End()

	res, err := s.api.Register(ctx, reg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("register %q: %w", reg.Username, authError(err))
	}

	tok, err := s.establish(ctx, domain.RoleCustomer, res)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("register %q: %w", reg.Username, err)
	}

	span.AddEvent("user.registered")
	return tok, nil
}

// Logout ends role's session locally. Logging the customer out also drops
// the cached cart (see CartCache).
func (s *AuthService) Logout(ctx context.Context, role domain.Role) {
	s.session.Clear(ctx, role)
	log.Info().Str("role", role.String()).Msg("Logged out")
}

// Sessions returns the live tokens keyed by role.
func (s *AuthService) Sessions() map[domain.Role]domain.SessionToken {
	return s.session.Snapshot()
}

func (s *AuthService) establish(ctx context.Context, role domain.Role, res *domain.AuthResult) (*domain.SessionToken, error) {
	if res == nil || res.Token == "" {
		return nil, fmt.Errorf("auth response carried no token: %w", ErrUpstream)
	}

	if err := s.session.Set(ctx, role, res.Token, res.User); err != nil {
		// the in-memory session is live; only durability is lost
		log.Warn().Err(err).Str("role", role.String()).Msg("Failed to persist session")
	}

	tok := domain.SessionToken{Role: role, Value: res.Token, Profile: res.User}
	for _, hook := range s.onLogin[role] {
		hook(ctx, tok)
	}

	log.Info().Str("role", role.String()).Str("user_id", res.User.ID).Msg("Login successful")
	return &tok, nil
}

// authError maps a rejected login or registration onto the auth sentinels.
func authError(err error) error {
	var se interface{ StatusCode() int }
	if errors.As(err, &se) {
		switch se.StatusCode() {
		case http.StatusConflict:
			return fmt.Errorf("%w: %w", ErrUserExists, err)
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
	}
	return err
}
