package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// Commerce endpoint paths, relative to the API base URL.
const (
	CartPath     = "/cart"
	CartSyncPath = "/cart/sync"
	ProductsPath = "/products"
)

type cartPayload struct {
	Items []domain.CartLineItem `json:"items"`
}

// CommerceClient is the authenticated cart and catalog client. Every call
// goes through doer, which is the Request Pipeline in production.
type CommerceClient struct {
	doer domain.Doer
}

// NewCommerceClient creates a CommerceClient on top of doer.
func NewCommerceClient(doer domain.Doer) *CommerceClient {
	return &CommerceClient{doer: doer}
}

// GetCart returns the backend copy of the cart.
func (c *CommerceClient) GetCart(ctx context.Context) ([]domain.CartLineItem, error) {
	resp, err := c.doer.Do(ctx, domain.NewRequest(http.MethodGet, CartPath, nil))
	if err != nil {
		return nil, err
	}

	var payload cartPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return payload.Items, nil
}

// SyncCart replaces the backend cart with items. An empty list clears it.
func (c *CommerceClient) SyncCart(ctx context.Context, items []domain.CartLineItem) error {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	body, err := json.Marshal(cartPayload{Items: items})
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	_, err = c.doer.Do(ctx, domain.NewRequest(http.MethodPost, CartSyncPath, body))
	return err
}

// GetProduct returns the authoritative product with its variant prices.
func (c *CommerceClient) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	resp, err := c.doer.Do(ctx, domain.NewRequest(http.MethodGet, ProductsPath+"/"+url.PathEscape(id), nil))
	if err != nil {
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, fmt.Errorf("decode product %q: %w", id, err)
	}
	return &p, nil
}
