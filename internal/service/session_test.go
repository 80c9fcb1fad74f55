package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/domain"
)

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id, err := GenerateSessionID()
		require.NoError(t, err)
		assert.Len(t, id, 44)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate session id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateOrderNumber(t *testing.T) {
	now := time.Date(2026, 1, 19, 15, 4, 5, 0, time.UTC)
	number, err := GenerateOrderNumber(now)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(number, "ORD-20260119-"), number)

	suffix := strings.TrimPrefix(number, "ORD-20260119-")
	assert.Len(t, suffix, 6)
	for _, r := range suffix {
		assert.Contains(t, orderNumberAlphabet, string(r))
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		fields []string
	}{
		{
			name:  "valid",
			input: domain.AddCartItemParams{ProductID: "p1", Quantity: 1},
		},
		{
			name:   "missing product and zero quantity",
			input:  domain.AddCartItemParams{},
			fields: []string{"productId", "quantity"},
		},
		{
			name:   "blank item id",
			input:  domain.AddCartItemParams{ProductID: "p1", SelectedVariantItemIDs: []string{"a", ""}, Quantity: 1},
			fields: []string{"selectedVariantItemIds[1]"},
		},
		{
			name:   "bad checkout urls",
			input:  domain.CheckoutParams{SuccessURL: "not a url", CustomerEmail: "nope"},
			fields: []string{"successUrl", "customerEmail"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStruct("test", tt.input)
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.True(t, domain.IsValidationError(err))
			fields := domain.GetValidationFields(err)
			assert.Len(t, fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, fields, f)
			}
		})
	}
}
