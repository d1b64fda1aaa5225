package v1

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// acceptToken answers 200 for the given bearer token and 401 otherwise.
func acceptToken(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			respond(http.StatusUnauthorized, `{"error":"token expired"}`)(w, r)
			return
		}
		respond(http.StatusOK, `{"ok":true}`)(w, r)
	}
}

func TestPipelineAttachesResolvedToken(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/admin/stats", respond(http.StatusOK, `{}`))
		r.Get("/api/v1/products", respond(http.StatusOK, `[]`))
	})
	ctx := t.Context()

	_, err := f.pipeline.Do(ctx, domain.NewRequest(http.MethodGet, "/products", nil))
	require.NoError(t, err)

	f.login(t, domain.RoleCustomer, "customer-token")
	f.login(t, domain.RoleSeller, "seller-token")
	_, err = f.pipeline.Do(ctx, domain.NewRequest(http.MethodGet, "/products", nil))
	require.NoError(t, err)

	f.login(t, domain.RoleAdmin, "admin-token")
	_, err = f.pipeline.Do(ctx, domain.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.NoError(t, err)

	calls := f.backend.Calls()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].Auth)
	assert.Equal(t, "Bearer seller-token", calls[1].Auth)
	assert.Equal(t, "Bearer admin-token", calls[2].Auth)
}

func TestPipelineScopedUnauthorizedEndsOnlyThatRole(t *testing.T) {
	tests := []struct {
		role     domain.Role
		path     string
		redirect string
	}{
		{domain.RoleAdmin, "/admin/users", "/admin/login"},
		{domain.RoleSeller, "/seller/orders", "/seller/login"},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			f := newPipelineFixture(t, func(r chi.Router) {
				r.Get("/api/v1"+tt.path, respond(http.StatusUnauthorized, `{"error":"expired"}`))
			})
			for _, role := range domain.Roles {
				f.login(t, role, role.String()+"-token")
			}

			_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, tt.path, nil))

			require.ErrorIs(t, err, ErrUnauthorized)
			assert.False(t, f.session.Has(tt.role))
			for _, role := range domain.Roles {
				if role != tt.role {
					assert.True(t, f.session.Has(role), "role %s must survive", role)
				}
			}
			assert.Zero(t, f.auth.RefreshCalls())
			assert.Len(t, f.backend.Calls(), 1)
			assert.Equal(t, []domain.Notice{{
				Kind:     domain.NoticeSessionExpired,
				Message:  sessionExpiredMessage,
				Redirect: tt.redirect,
			}}, f.notifier.All())
		})
	}
}

func TestPipelineCustomerUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/cart", acceptToken("fresh"))
	})
	f.login(t, domain.RoleCustomer, "stale")

	resp, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/cart", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	assert.Equal(t, 1, f.auth.RefreshCalls())
	calls := f.backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer stale", calls[0].Auth)
	assert.Equal(t, "Bearer fresh", calls[1].Auth)

	tok, ok := f.session.Get(domain.RoleCustomer)
	require.True(t, ok)
	assert.Equal(t, "fresh", tok.Value)
	assert.Equal(t, "customer-1", tok.Profile.ID, "profile survives a refresh that omits it")
	assert.Empty(t, f.notifier.All())
}

func TestPipelineSharedPathRetryCarriesFreshCustomerToken(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/orders", acceptToken("fresh"))
	})
	f.login(t, domain.RoleAdmin, "admin-token")
	f.login(t, domain.RoleCustomer, "stale")

	_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/orders", nil))
	require.NoError(t, err)

	calls := f.backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer admin-token", calls[0].Auth)
	assert.Equal(t, "Bearer fresh", calls[1].Auth)
	assert.True(t, f.session.Has(domain.RoleAdmin))
}

func TestPipelineRetryIsNeverRefreshedAgain(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/cart", respond(http.StatusUnauthorized, `{"error":"nope"}`))
	})
	f.login(t, domain.RoleCustomer, "stale")

	_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/cart", nil))

	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, f.auth.RefreshCalls())
	assert.Len(t, f.backend.Calls(), 2)
}

func TestPipelineRefreshFailureLogsCustomerOut(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/cart", respond(http.StatusUnauthorized, `{}`))
	})
	f.auth.refresh = func() (*domain.AuthResult, error) {
		return nil, statusError{status: http.StatusUnauthorized}
	}
	f.login(t, domain.RoleCustomer, "stale")
	f.login(t, domain.RoleSeller, "seller-token")

	_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/cart", nil))

	require.ErrorIs(t, err, ErrRefreshFailed)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, f.session.Has(domain.RoleCustomer))
	assert.True(t, f.session.Has(domain.RoleSeller))
	assert.Len(t, f.backend.Calls(), 1, "no retry after a failed refresh")
	assert.Equal(t, []domain.Notice{{
		Kind:     domain.NoticeSessionExpired,
		Message:  sessionExpiredMessage,
		Redirect: "/login",
	}}, f.notifier.All())
}

func TestPipelineConcurrentUnauthorizedShareRefresh(t *testing.T) {
	const n = 5
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/cart", acceptToken("fresh"))
	})
	f.auth.refresh = func() (*domain.AuthResult, error) {
		time.Sleep(100 * time.Millisecond)
		return &domain.AuthResult{Token: "fresh"}, nil
	}
	f.login(t, domain.RoleCustomer, "stale")

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/cart", nil))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, f.auth.RefreshCalls(), n)
}

func TestPipelineFailureNotices(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantKind domain.NoticeKind
		wantMsg  string
	}{
		{"forbidden", http.StatusForbidden, `{}`, ErrForbidden, domain.NoticeAccessDenied, accessDeniedMessage},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, ErrServerFault, domain.NoticeServerError, serverErrorMessage},
		{"other", http.StatusUnprocessableEntity, `{"message":"Out of stock"}`, ErrUpstream, domain.NoticeError, "Out of stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t, func(r chi.Router) {
				r.Post("/api/v1/orders", respond(tt.status, tt.body))
			})
			f.login(t, domain.RoleCustomer, "customer-token")

			_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodPost, "/orders", []byte(`{}`)))

			require.ErrorIs(t, err, tt.wantErr)
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, []domain.Notice{{Kind: tt.wantKind, Message: tt.wantMsg}}, f.notifier.All())
			assert.True(t, f.session.Has(domain.RoleCustomer))
		})
	}
}

func TestPipelineOtherWithoutMessageIsSilent(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/products/1", respond(http.StatusNotFound, ``))
	})

	_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/products/1", nil))

	require.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, f.notifier.All())
}

func TestPipelineBackgroundCallsAreSilent(t *testing.T) {
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Post("/api/v1/cart/sync", respond(http.StatusInternalServerError, `{"error":"db down"}`))
		r.Get("/api/v1/products/1", respond(http.StatusForbidden, `{}`))
	})
	f.login(t, domain.RoleCustomer, "customer-token")
	ctx := Background(t.Context())

	_, err := f.pipeline.Do(ctx, domain.NewRequest(http.MethodPost, "/cart/sync", []byte(`{"items":[]}`)))
	require.ErrorIs(t, err, ErrServerFault)

	_, err = f.pipeline.Do(ctx, domain.NewRequest(http.MethodGet, "/products/1", nil))
	require.ErrorIs(t, err, ErrForbidden)

	assert.Empty(t, f.notifier.All())
}

func TestPipelineTransportError(t *testing.T) {
	f := newPipelineFixture(t, func(chi.Router) {})
	f.backend.srv.Close()

	_, err := f.pipeline.Do(t.Context(), domain.NewRequest(http.MethodGet, "/products", nil))

	require.Error(t, err)
	assert.Equal(t, []domain.NoticeKind{domain.NoticeError}, f.notifier.Kinds())
}

func TestPipelineSendsQueryAndRequestID(t *testing.T) {
	var (
		mu       sync.Mutex
		gotQuery string
		gotID    string
	)
	f := newPipelineFixture(t, func(r chi.Router) {
		r.Get("/api/v1/products", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			gotQuery = r.URL.RawQuery
			gotID = r.Header.Get("X-Request-ID")
			mu.Unlock()
			respond(http.StatusOK, `[]`)(w, r)
		})
	})

	req := domain.NewRequest(http.MethodGet, "products", nil)
	req.Query = map[string][]string{"q": {"lamp"}}
	_, err := f.pipeline.Do(t.Context(), req)

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "q=lamp", gotQuery)
	assert.NotEmpty(t, gotID)
}
