package v1

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// The persisted cart may have been written by an older build or edited by
// hand, so every line is decoded field by field and a bad field only costs
// that line (or that price), never the whole cart.

type storedCart struct {
	Items     []json.RawMessage `json:"items"`
	Currency  string            `json:"currency"`
	UpdatedAt json.RawMessage   `json:"updated_at"`
}

type storedLine struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Variant   json.RawMessage `json:"variant"`
	Product   json.RawMessage `json:"product"`
	Quantity  json.RawMessage `json:"quantity"`
	UnitPrice json.RawMessage `json:"unit_price"`
	AddedAt   json.RawMessage `json:"added_at"`
}

type storedVariant struct {
	SKU        string            `json:"sku"`
	Attributes map[string]string `json:"attributes"`
	Price      json.RawMessage   `json:"price"`
}

type storedProduct struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Price    json.RawMessage   `json:"price"`
	Currency string            `json:"currency"`
	ImageURL string            `json:"image_url"`
	Variants []json.RawMessage `json:"variants"`
}

func decodeCart(data []byte) (domain.CartState, error) {
	var raw storedCart
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.CartState{}, err
	}

	lines := make([]domain.CartLineItem, 0, len(raw.Items))
	for i, item := range raw.Items {
		line, ok := decodeLine(item)
		if !ok {
			log.Warn().Int("index", i).Msg("Dropping unreadable cart line")
			continue
		}
		lines = append(lines, line)
	}

	updated := decodeTime(raw.UpdatedAt)
	return domain.CartState{
		Items:     normalizeLines(lines, updated),
		Currency:  raw.Currency,
		UpdatedAt: updated,
	}, nil
}

func decodeLine(data json.RawMessage) (domain.CartLineItem, bool) {
	var raw storedLine
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.CartLineItem{}, false
	}

	qty, ok := decodeQuantity(raw.Quantity)
	if !ok || qty <= 0 {
		return domain.CartLineItem{}, false
	}

	product := decodeProduct(raw.Product)
	productID := strings.TrimSpace(raw.ProductID)
	if productID == "" {
		productID = strings.TrimSpace(product.ID)
	}
	if productID == "" {
		return domain.CartLineItem{}, false
	}
	if product.ID == "" {
		product.ID = productID
	}

	return domain.CartLineItem{
		ProductID: productID,
		Variant:   decodeVariant(raw.Variant),
		Product:   product,
		Quantity:  qty,
		UnitPrice: decodePrice(raw.UnitPrice),
		AddedAt:   decodeTime(raw.AddedAt),
	}, true
}

func decodeVariant(data json.RawMessage) *domain.Variant {
	if isNull(data) {
		return nil
	}
	var raw storedVariant
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	v := &domain.Variant{
		SKU:        raw.SKU,
		Attributes: raw.Attributes,
		Price:      decodePrice(raw.Price),
	}
	if v.Signature() == "" {
		return nil
	}
	return v
}

func decodeProduct(data json.RawMessage) domain.Product {
	if isNull(data) {
		return domain.Product{}
	}
	var raw storedProduct
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Product{}
	}
	p := domain.Product{
		ID:       strings.TrimSpace(raw.ID),
		Name:     raw.Name,
		Price:    decodePrice(raw.Price),
		Currency: raw.Currency,
		ImageURL: raw.ImageURL,
	}
	for _, rv := range raw.Variants {
		if v := decodeVariant(rv); v != nil {
			p.Variants = append(p.Variants, *v)
		}
	}
	return p
}

// decodeQuantity accepts an integral JSON number or a quoted integer.
func decodeQuantity(data json.RawMessage) (int, bool) {
	s, ok := scalar(data)
	if !ok {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// decodePrice returns an invalid NullDecimal for anything that is not a
// non-negative decimal.
func decodePrice(data json.RawMessage) decimal.NullDecimal {
	s, ok := scalar(data)
	if !ok {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func decodeTime(data json.RawMessage) time.Time {
	var t time.Time
	if isNull(data) || json.Unmarshal(data, &t) != nil {
		return time.Time{}
	}
	return t
}

// scalar returns the text of a JSON number or string.
func scalar(data json.RawMessage) (string, bool) {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return "", false
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	if data[0] == '{' || data[0] == '[' {
		return "", false
	}
	return string(data), true
}

func isNull(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

// normalizeLines recomputes line ids, drops lines without a product or a
// positive quantity and folds duplicates into the first occurrence.
func normalizeLines(items []domain.CartLineItem, now time.Time) []domain.CartLineItem {
	out := make([]domain.CartLineItem, 0, len(items))
	index := make(map[string]int, len(items))

	for _, it := range items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		if it.ProductID == "" {
			it.ProductID = strings.TrimSpace(it.Product.ID)
		}
		if it.ProductID == "" || it.Quantity <= 0 {
			continue
		}
		if it.Product.ID == "" {
			it.Product.ID = it.ProductID
		}
		if it.Variant.Signature() == "" {
			it.Variant = nil
		}
		it.ID = domain.LineID(it.ProductID, it.Variant)
		if it.AddedAt.IsZero() {
			it.AddedAt = now
		}

		if i, ok := index[it.ID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}
