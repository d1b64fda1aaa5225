package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/storefront-sync/internal/core/domain"
	"github.com/duynhne/storefront-sync/internal/core/repository"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) All() []domain.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notice(nil), n.notices...)
}

func (n *recordingNotifier) Kinds() []domain.NoticeKind {
	var kinds []domain.NoticeKind
	for _, notice := range n.All() {
		kinds = append(kinds, notice.Kind)
	}
	return kinds
}

// statusError mimics the remote client's HTTP error.
type statusError struct{ status int }

func (e statusError) Error() string   { return http.StatusText(e.status) }
func (e statusError) StatusCode() int { return e.status }

type fakeAuthAPI struct {
	mu           sync.Mutex
	refreshCalls int

	login    func(role domain.Role, creds domain.Credentials) (*domain.AuthResult, error)
	register func(reg domain.Registration) (*domain.AuthResult, error)
	refresh  func() (*domain.AuthResult, error)
}

func (f *fakeAuthAPI) Login(_ context.Context, role domain.Role, creds domain.Credentials) (*domain.AuthResult, error) {
	return f.login(role, creds)
}

func (f *fakeAuthAPI) Register(_ context.Context, reg domain.Registration) (*domain.AuthResult, error) {
	return f.register(reg)
}

func (f *fakeAuthAPI) Refresh(_ context.Context) (*domain.AuthResult, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	return f.refresh()
}

func (f *fakeAuthAPI) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// apiCall is one request seen by apiBackend.
type apiCall struct {
	Method string
	Path   string
	Auth   string
}

// apiBackend is a chi-routed stand-in for the commerce API that records
// the Authorization header of every call.
type apiBackend struct {
	mu    sync.Mutex
	calls []apiCall
	srv   *httptest.Server
}

func newAPIBackend(t *testing.T, routes func(r chi.Router)) *apiBackend {
	t.Helper()

	b := &apiBackend{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			b.calls = append(b.calls, apiCall{Method: req.Method, Path: req.URL.Path, Auth: req.Header.Get("Authorization")})
			b.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	routes(r)

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *apiBackend) Calls() []apiCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]apiCall(nil), b.calls...)
}

type pipelineFixture struct {
	session  *SessionContext
	auth     *fakeAuthAPI
	notifier *recordingNotifier
	pipeline *Pipeline
	backend  *apiBackend
}

func newPipelineFixture(t *testing.T, routes func(r chi.Router)) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		session:  NewSessionContext(repository.NewMemoryStore()),
		notifier: &recordingNotifier{},
		backend:  newAPIBackend(t, routes),
		auth: &fakeAuthAPI{
			refresh: func() (*domain.AuthResult, error) {
				return &domain.AuthResult{Token: "fresh"}, nil
			},
		},
	}

	refresher := NewRefresher(f.auth, f.session, f.notifier)
	p, err := NewPipeline(f.backend.srv.URL+"/api/v1", &http.Client{}, f.session, refresher, f.notifier)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *pipelineFixture) login(t *testing.T, role domain.Role, token string) {
	t.Helper()
	require.NoError(t, f.session.Set(t.Context(), role, token, domain.Profile{ID: role.String() + "-1"}))
}

// fakeCartBackend is an in-memory CartBackend.
type fakeCartBackend struct {
	mu sync.Mutex

	remote  []domain.CartLineItem
	getErr  error
	syncErr error
	syncs   [][]domain.CartLineItem

	products     map[string]*domain.Product
	productErr   map[string]error
	productCalls map[string]int
}

func newFakeCartBackend() *fakeCartBackend {
	return &fakeCartBackend{
		products:     make(map[string]*domain.Product),
		productErr:   make(map[string]error),
		productCalls: make(map[string]int),
	}
}

func (b *fakeCartBackend) GetCart(context.Context) ([]domain.CartLineItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	return append([]domain.CartLineItem(nil), b.remote...), nil
}

func (b *fakeCartBackend) SyncCart(_ context.Context, items []domain.CartLineItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.syncErr != nil {
		return b.syncErr
	}
	b.syncs = append(b.syncs, append([]domain.CartLineItem{}, items...))
	return nil
}

func (b *fakeCartBackend) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.productCalls[id]++
	if err := b.productErr[id]; err != nil {
		return nil, err
	}
	p, ok := b.products[id]
	if !ok {
		return nil, statusError{status: http.StatusNotFound}
	}
	out := *p
	return &out, nil
}

func (b *fakeCartBackend) Syncs() [][]domain.CartLineItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]domain.CartLineItem(nil), b.syncs...)
}

func (b *fakeCartBackend) setProduct(p domain.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.products[p.ID] = &p
}

type cartFixture struct {
	cart     *CartCache
	session  *SessionContext
	store    domain.KVStore
	backend  *fakeCartBackend
	notifier *recordingNotifier
	queue    *Queue
}

func newCartFixture(t *testing.T, customerLoggedIn bool) *cartFixture {
	t.Helper()

	f := &cartFixture{
		store:    repository.NewMemoryStore(),
		backend:  newFakeCartBackend(),
		notifier: &recordingNotifier{},
		queue:    NewQueue(64),
	}
	f.session = NewSessionContext(f.store)
	f.cart = NewCartCache(f.session, f.store, f.backend, f.queue, f.notifier, "USD")
	t.Cleanup(func() { _ = f.queue.Close(context.Background()) })

	if customerLoggedIn {
		require.NoError(t, f.session.Set(t.Context(), domain.RoleCustomer, "customer-token", domain.Profile{ID: "c-1"}))
	}
	return f
}

// flush waits for every queued background task. The queue accepts no more
// work afterwards.
func (f *cartFixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.queue.Close(t.Context()))
}
