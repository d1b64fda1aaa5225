package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/duynhne/storefront-sync/internal/core/domain"
	"github.com/duynhne/storefront-sync/middleware"
)

const cartKey = "cart:state"

// priceEpsilon is the largest price drift reconciliation ignores.
var priceEpsilon = decimal.New(1, -4)

// CartBackend is the backend surface the cart reconciles against.
type CartBackend interface {
	domain.CartAPI
	domain.ProductAPI
}

// CartCache holds the optimistic local cart. Mutations are applied and
// persisted synchronously under one lock and return the new state at once;
// the backend copy is updated afterwards through the Queue and never blocks
// or fails a mutation.
type CartCache struct {
	session  *SessionContext
	store    domain.KVStore
	backend  CartBackend
	queue    *Queue
	notifier domain.Notifier
	breaker  *gobreaker.CircuitBreaker[struct{}]
	lookups  singleflight.Group
	now      func() time.Time

	mu    sync.Mutex
	state domain.CartState
}

// NewCartCache creates an empty cart priced in currency and ties it to the
// customer session: clearing the customer drops the local cart.
func NewCartCache(session *SessionContext, store domain.KVStore, backend CartBackend, queue *Queue, notifier domain.Notifier, currency string) *CartCache {
	c := &CartCache{
		session:  session,
		store:    store,
		backend:  backend,
		queue:    queue,
		notifier: notifier,
		now:      time.Now,
		state: domain.CartState{
			Items:    []domain.CartLineItem{},
			Total:    decimal.Zero,
			Currency: currency,
		},
	}

	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "cart-sync",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Cart sync breaker state changed")
		},
	})

	session.OnClear(domain.RoleCustomer, c.dropLocal)
	return c
}

// RecomputeTotal sums quantity x unit price over items. A line with an
// unusable price or quantity contributes zero instead of poisoning the sum.
func RecomputeTotal(items []domain.CartLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// UnitPrice is the price a line for product+variant is charged at: the
// product's own price for that variant when listed, then the variant's price,
// then the product price.
func UnitPrice(p domain.Product, v *domain.Variant) decimal.NullDecimal {
	if v != nil {
		if m := p.FindVariant(v); m != nil && m.Price.Valid {
			return m.Price
		}
		if v.Price.Valid {
			return v.Price
		}
	}
	return p.Price
}

// State returns a copy of the current cart.
func (c *CartCache) State() domain.CartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Add puts quantity units of product (and variant, if any) in the cart.
// An existing line with the same identity is incremented in place.
func (c *CartCache) Add(ctx context.Context, product domain.Product, quantity int, variant *domain.Variant) (domain.CartState, error) {
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return c.State(), ErrInvalidProduct
	}
	if quantity <= 0 {
		return c.State(), fmt.Errorf("add %d of %q: %w", quantity, productID, ErrInvalidQuantity)
	}
	product.ID = productID
	product.Variants = slices.Clone(product.Variants)
	selected := selectedVariant(product, variant)
	id := domain.LineID(productID, selected)

	c.mu.Lock()
	wasEmpty := len(c.state.Items) == 0
	if i := c.indexLocked(id); i >= 0 {
		c.state.Items[i].Quantity += quantity
	} else {
		c.state.Items = append(c.state.Items, domain.CartLineItem{
			ID:        id,
			ProductID: productID,
			Variant:   selected,
			Product:   product,
			Quantity:  quantity,
			UnitPrice: UnitPrice(product, variant),
			AddedAt:   c.now(),
		})
	}
	snap := c.commitLocked(ctx)
	c.mu.Unlock()

	c.schedulePush(snap.Items, wasEmpty)
	return snap, nil
}

// Remove deletes a line.
func (c *CartCache) Remove(ctx context.Context, lineID string) (domain.CartState, error) {
	c.mu.Lock()
	i := c.indexLocked(lineID)
	if i < 0 {
		snap := c.state.Clone()
		c.mu.Unlock()
		return snap, fmt.Errorf("remove %q: %w", lineID, ErrLineNotFound)
	}
	c.state.Items = slices.Delete(c.state.Items, i, i+1)
	snap := c.commitLocked(ctx)
	c.mu.Unlock()

	c.schedulePush(snap.Items, false)
	return snap, nil
}

// SetQuantity sets a line's quantity; n <= 0 removes the line.
func (c *CartCache) SetQuantity(ctx context.Context, lineID string, n int) (domain.CartState, error) {
	if n <= 0 {
		return c.Remove(ctx, lineID)
	}

	c.mu.Lock()
	i := c.indexLocked(lineID)
	if i < 0 {
		snap := c.state.Clone()
		c.mu.Unlock()
		return snap, fmt.Errorf("set quantity of %q: %w", lineID, ErrLineNotFound)
	}
	c.state.Items[i].Quantity = n
	snap := c.commitLocked(ctx)
	c.mu.Unlock()

	c.schedulePush(snap.Items, false)
	return snap, nil
}

// Clear empties the cart. The total is zero on return; the backend is told
// afterwards with an empty line list.
func (c *CartCache) Clear(ctx context.Context) domain.CartState {
	c.mu.Lock()
	wasEmpty := len(c.state.Items) == 0
	c.state.Items = []domain.CartLineItem{}
	snap := c.commitLocked(ctx)
	c.mu.Unlock()

	c.schedulePush(snap.Items, wasEmpty)
	return snap
}

// Restore loads the cart persisted by a previous run. Lines with an
// unreadable price are kept and contribute zero until reconciled; lines
// without a positive quantity are dropped.
func (c *CartCache) Restore(ctx context.Context) error {
	data, err := c.store.Get(ctx, cartKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cart: %w", err)
	}

	state, err := decodeCart(data)
	if err != nil {
		return fmt.Errorf("decode cart: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Items = state.Items
	if state.Currency != "" {
		c.state.Currency = state.Currency
	}
	c.state.Total = RecomputeTotal(c.state.Items)
	c.state.UpdatedAt = state.UpdatedAt
	return nil
}

// SyncWithBackend pushes the full local line list to the backend. It is a
// no-op without a customer session or with an empty cart. Callers normally
// reach it through the Queue, which logs and drops the error.
func (c *CartCache) SyncWithBackend(ctx context.Context) error {
	snap := c.State()
	if len(snap.Items) == 0 {
		middleware.ObserveCartSync("push", "skipped")
		return nil
	}
	return c.push(ctx, snap.Items)
}

// LoadFromBackend replaces the local cart with the backend's copy. When the
// backend cart is empty the local lines are kept and pushed instead, so a
// cart filled before login survives it.
func (c *CartCache) LoadFromBackend(ctx context.Context) error {
	if !c.session.Has(domain.RoleCustomer) {
		middleware.ObserveCartSync("load", "skipped")
		return nil
	}

	ctx, span := middleware.StartSpan(Background(ctx), "cart.load", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	items, err := c.backend.GetCart(ctx)
	if err != nil {
		span.RecordError(err)
		middleware.ObserveCartSync("load", "error")
		return fmt.Errorf("load cart: %w", err)
	}
	remote := normalizeLines(items, c.now())
	span.SetAttributes(attribute.Int("cart.remote_items", len(remote)))

	c.mu.Lock()
	if len(remote) > 0 {
		c.state.Items = remote
		snap := c.commitLocked(ctx)
		c.mu.Unlock()

		middleware.ObserveCartSync("load", "ok")
		log.Info().Int("items", len(snap.Items)).Msg("Cart replaced by backend copy")
		return nil
	}
	local := c.state.Clone()
	c.mu.Unlock()

	middleware.ObserveCartSync("load", "ok")
	if len(local.Items) > 0 {
		c.schedulePush(local.Items, false)
	}
	return nil
}

// OnCustomerLogin schedules one backend load per customer login transition.
func (c *CartCache) OnCustomerLogin(_ context.Context, _ domain.SessionToken) {
	c.queue.Submit("cart.load", c.LoadFromBackend)
}

// ReconcilePrices re-fetches every line's product and reprices lines whose
// price drifted by more than priceEpsilon. Lookups run independently: a
// failed one leaves its line untouched and does not stop the others.
// It returns the number of repriced lines.
func (c *CartCache) ReconcilePrices(ctx context.Context) int {
	ctx, span := middleware.StartSpan(ctx, "cart.reconcile_prices", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	// lookup failures are advisory and must not reach the user
	ctx = Background(ctx)

	snap := c.State()
	if len(snap.Items) == 0 {
		return 0
	}

	type lookup struct {
		product *domain.Product
		err     error
	}
	results := make([]lookup, len(snap.Items))

	var wg sync.WaitGroup
	for i, line := range snap.Items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.lookup(ctx, line.ProductID)
			results[i] = lookup{product: p, err: err}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	changed := 0
	for i, line := range snap.Items {
		r := results[i]
		if r.err != nil {
			log.Warn().Err(r.err).Str("product_id", line.ProductID).Msg("Price lookup failed, keeping cached price")
			continue
		}

		j := c.indexLocked(line.ID)
		if j < 0 {
			// removed while the lookup was in flight
			continue
		}

		price := UnitPrice(*r.product, line.Variant)
		if !price.Valid {
			continue
		}
		cur := c.state.Items[j]
		if cur.UnitPrice.Valid && cur.UnitPrice.Decimal.Sub(price.Decimal).Abs().LessThanOrEqual(priceEpsilon) {
			continue
		}

		cur.UnitPrice = price
		cur.Product = *r.product
		c.state.Items[j] = cur
		changed++
	}

	var updated domain.CartState
	if changed > 0 {
		updated = c.commitLocked(ctx)
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("cart.repriced", changed))
	if changed == 0 {
		return 0
	}

	middleware.ObservePriceChanges(changed)
	c.notifier.Notify(ctx, domain.Notice{
		Kind:    domain.NoticePriceChanged,
		Message: fmt.Sprintf("Prices changed for %d item(s) in your cart.", changed),
	})
	c.schedulePush(updated.Items, false)
	return changed
}

// ReconcileLoop runs ReconcilePrices every interval until ctx is done.
func (c *CartCache) ReconcileLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.ReconcilePrices(ctx); n > 0 {
				log.Info().Int("repriced", n).Msg("Cart prices reconciled")
			}
		}
	}
}

func (c *CartCache) lookup(ctx context.Context, productID string) (*domain.Product, error) {
	v, err, _ := c.lookups.Do(productID, func() (interface{}, error) {
		return c.backend.GetProduct(context.WithoutCancel(ctx), productID)
	})
	if err != nil {
		return nil, err
	}
	p := v.(*domain.Product)
	if p == nil {
		return nil, fmt.Errorf("product %q: empty response", productID)
	}
	return p, nil
}

// schedulePush queues a push of items. A push is skipped only when the cart
// was already empty before the mutation.
func (c *CartCache) schedulePush(items []domain.CartLineItem, wasEmpty bool) {
	if len(items) == 0 && wasEmpty {
		return
	}
	c.queue.Submit("cart.sync", func(ctx context.Context) error {
		return c.push(ctx, items)
	})
}

func (c *CartCache) push(ctx context.Context, items []domain.CartLineItem) error {
	if !c.session.Has(domain.RoleCustomer) {
		middleware.ObserveCartSync("push", "skipped")
		return nil
	}

	ctx, span := middleware.StartSpan(ctx, "cart.sync", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.Int("cart.items", len(items)),
	))
	defer span.End()

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.backend.SyncCart(ctx, items)
	})
	if err != nil {
		span.RecordError(err)
		middleware.ObserveCartSync("push", "error")
		return fmt.Errorf("sync cart: %w", err)
	}

	middleware.ObserveCartSync("push", "ok")
	return nil
}

// dropLocal is the customer clear hook: the cart belongs to the customer
// identity, so it goes with it. Nothing is pushed.
func (c *CartCache) dropLocal(ctx context.Context, _ domain.Role) {
	c.mu.Lock()
	c.state.Items = []domain.CartLineItem{}
	c.state.Total = decimal.Zero
	c.state.UpdatedAt = c.now()
	c.mu.Unlock()

	if err := c.store.Delete(ctx, cartKey); err != nil {
		log.Warn().Err(err).Msg("Failed to delete persisted cart")
	}
}

func (c *CartCache) indexLocked(lineID string) int {
	return slices.IndexFunc(c.state.Items, func(it domain.CartLineItem) bool {
		return it.ID == lineID
	})
}

// commitLocked recomputes the total, persists the state and returns a copy.
func (c *CartCache) commitLocked(ctx context.Context) domain.CartState {
	c.state.Total = RecomputeTotal(c.state.Items)
	c.state.UpdatedAt = c.now()

	data, err := json.Marshal(c.state)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode cart")
	} else if err := c.store.Set(ctx, cartKey, data); err != nil {
		log.Warn().Err(err).Msg("Failed to persist cart")
	}

	return c.state.Clone()
}

// selectedVariant returns the copy of the chosen variant kept on the line:
// the product's own entry when listed, otherwise the given one.
func selectedVariant(p domain.Product, v *domain.Variant) *domain.Variant {
	if v.Signature() == "" {
		return nil
	}
	if m := p.FindVariant(v); m != nil {
		out := *m
		return &out
	}
	out := *v
	return &out
}
