package v1

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/duynhne/storefront-sync/internal/core/domain"
	"github.com/duynhne/storefront-sync/middleware"
)

const sessionExpiredMessage = "Your session has expired. Please log in again."

// Refresher performs the silent customer re-authentication:
// Authenticated(stale) -> Refreshing -> Authenticated(fresh) | LoggedOut.
//
// Concurrent callers share one in-flight refresh call; each of them still
// retries its own request.
type Refresher struct {
	api      domain.AuthAPI
	session  *SessionContext
	notifier domain.Notifier
	flight   singleflight.Group
}

// NewRefresher creates a Refresher. It only ever touches the customer role.
func NewRefresher(api domain.AuthAPI, session *SessionContext, notifier domain.Notifier) *Refresher {
	return &Refresher{
		api:      api,
		session:  session,
		notifier: notifier,
	}
}

// Refresh exchanges the ambient session cookie for a fresh customer token and
// stores it. On any failure the customer session is cleared, the user is
// notified and an error wrapping ErrRefreshFailed is returned.
func (r *Refresher) Refresh(ctx context.Context) (domain.SessionToken, error) {
	v, err, shared := r.flight.Do(domain.RoleCustomer.String(), func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return domain.SessionToken{}, err
	}
	if shared {
		log.Debug().Msg("Joined in-flight customer refresh")
	}
	return v.(domain.SessionToken), nil
}

func (r *Refresher) refresh(ctx context.Context) (domain.SessionToken, error) {
	ctx, span := middleware.StartSpan(ctx, "session.refresh", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("role", domain.RoleCustomer.String()),
	))
	defer span.End()

	res, err := r.api.Refresh(ctx)
	if err == nil && res.Token == "" {
		err = fmt.Errorf("refresh response carried no token: %w", ErrUpstream)
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("refresh.success", false))
		middleware.ObserveRefresh(false)
		log.Warn().Err(err).Msg("Customer refresh failed, logging out")

		r.session.Clear(ctx, domain.RoleCustomer)
		r.notifier.Notify(ctx, domain.Notice{
			Kind:     domain.NoticeSessionExpired,
			Message:  sessionExpiredMessage,
			Redirect: LoginSurface(domain.RoleCustomer),
		})
		return domain.SessionToken{}, fmt.Errorf("refresh customer session: %w: %w", ErrRefreshFailed, err)
	}

	profile := res.User
	if profile.ID == "" {
		// some backends omit the profile on refresh
		if prev, ok := r.session.Get(domain.RoleCustomer); ok {
			profile = prev.Profile
		}
	}

	if err := r.session.Set(ctx, domain.RoleCustomer, res.Token, profile); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed customer token")
	}

	span.SetAttributes(attribute.Bool("refresh.success", true))
	middleware.ObserveRefresh(true)
	log.Info().Str("user_id", profile.ID).Msg("Customer session refreshed")

	return domain.SessionToken{Role: domain.RoleCustomer, Value: res.Token, Profile: profile}, nil
}
