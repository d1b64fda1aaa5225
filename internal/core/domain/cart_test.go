package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

func TestVariantSignature(t *testing.T) {
	tests := []struct {
		name    string
		variant *domain.Variant
		want    string
	}{
		{name: "nil variant", variant: nil, want: ""},
		{name: "empty variant", variant: &domain.Variant{}, want: ""},
		{
			name:    "attributes are normalized and sorted",
			variant: &domain.Variant{Attributes: map[string]string{" Size ": "XL", "color": " Red", "blank": " "}},
			want:    "color=red;size=xl",
		},
		{name: "sku only", variant: &domain.Variant{SKU: " Tee-Red "}, want: "sku=tee-red"},
		{
			name:    "attributes win over sku",
			variant: &domain.Variant{SKU: "tee-red", Attributes: map[string]string{"color": "red"}},
			want:    "color=red",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.variant.Signature())
		})
	}
}

func TestProductFindVariant(t *testing.T) {
	tee := domain.Product{
		ID: "tee",
		Variants: []domain.Variant{
			{SKU: "tee-red", Attributes: map[string]string{"color": "red"}},
			{SKU: "tee-blue"},
		},
	}

	tests := []struct {
		name    string
		variant *domain.Variant
		wantSKU string
	}{
		{name: "by sku", variant: &domain.Variant{SKU: "TEE-RED"}, wantSKU: "tee-red"},
		{name: "sku only listing", variant: &domain.Variant{SKU: "tee-blue"}, wantSKU: "tee-blue"},
		{name: "by attributes", variant: &domain.Variant{Attributes: map[string]string{"Color": "Red"}}, wantSKU: "tee-red"},
		{name: "unknown sku", variant: &domain.Variant{SKU: "tee-green"}},
		{name: "nil variant", variant: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tee.FindVariant(tt.variant)
			if tt.wantSKU == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.wantSKU, got.SKU)
			}
		})
	}

	assert.Equal(t, "tee#sku=tee-blue", domain.LineID(" tee ", &domain.Variant{SKU: "tee-blue"}))
}
