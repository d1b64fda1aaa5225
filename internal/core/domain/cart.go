package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a selectable option of a product (color, size, material...).
// A variant with a valid Price overrides the product price.
type Variant struct {
	SKU        string              `json:"sku,omitempty"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	Price      decimal.NullDecimal `json:"price"`
}

// Signature returns the normalized variant signature: attribute keys and values
// lower-cased and trimmed, empty values dropped, sorted by key and joined as
// "k=v;k=v". A variant without usable attributes is identified by its SKU as
// "sku=<sku>". A nil variant has an empty signature.
func (v *Variant) Signature() string {
	if v == nil {
		return ""
	}

	parts := make([]string, 0, len(v.Attributes))
	for k, val := range v.Attributes {
		key := strings.ToLower(strings.TrimSpace(k))
		value := strings.ToLower(strings.TrimSpace(val))
		if key == "" || value == "" {
			continue
		}
		parts = append(parts, key+"="+value)
	}
	if len(parts) == 0 {
		if sku := normalizeSKU(v.SKU); sku != "" {
			return "sku=" + sku
		}
		return ""
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func normalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// Product is the client-side snapshot of a catalog product.
type Product struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Price    decimal.NullDecimal `json:"price"`
	Currency string              `json:"currency,omitempty"`
	ImageURL string              `json:"image_url,omitempty"`
	Variants []Variant           `json:"variants,omitempty"`
}

// FindVariant returns the product variant with the same SKU as v, or failing
// that the same signature, or nil.
func (p Product) FindVariant(v *Variant) *Variant {
	if v == nil {
		return nil
	}
	if sku := normalizeSKU(v.SKU); sku != "" {
		for i := range p.Variants {
			if normalizeSKU(p.Variants[i].SKU) == sku {
				return &p.Variants[i]
			}
		}
	}

	sig := v.Signature()
	if sig == "" {
		return nil
	}
	for i := range p.Variants {
		if p.Variants[i].Signature() == sig {
			return &p.Variants[i]
		}
	}
	return nil
}

// LineID builds the identity of a cart line from a product id and a variant.
// Two adds with the same LineID land on the same line.
func LineID(productID string, v *Variant) string {
	id := strings.TrimSpace(productID)
	if sig := v.Signature(); sig != "" {
		return id + "#" + sig
	}
	return id
}

// CartLineItem is one product(+variant) entry in the cart.
// UnitPrice is invalid when the persisted price could not be parsed;
// such a line contributes nothing to the total until its price is reconciled.
type CartLineItem struct {
	ID        string              `json:"id"`
	ProductID string              `json:"product_id"`
	Variant   *Variant            `json:"variant,omitempty"`
	Product   Product             `json:"product"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	AddedAt   time.Time           `json:"added_at"`
}

// Subtotal is Quantity x UnitPrice, or zero when either side is unusable.
func (l CartLineItem) Subtotal() decimal.Decimal {
	if !l.UnitPrice.Valid || l.Quantity <= 0 {
		return decimal.Zero
	}
	return l.UnitPrice.Decimal.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartState is the full cart as held by the client.
// Total is derived from Items and is never authoritative on its own.
type CartState struct {
	Items     []CartLineItem  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep-enough copy that callers can hold without racing the cache.
func (s CartState) Clone() CartState {
	out := s
	out.Items = make([]CartLineItem, len(s.Items))
	copy(out.Items, s.Items)
	return out
}
