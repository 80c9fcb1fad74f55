package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/domain"
)

type errorEnvelope struct {
	Error struct {
		Code              string                    `json:"code"`
		Message           string                    `json:"message"`
		Fields            map[string]string         `json:"fields"`
		InsufficientItems []domain.InsufficientItem `json:"insufficientItems"`
	} `json:"error"`
}

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, errorEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/cart/items", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, err)

	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return rec, env
}

func TestErrorResponse_StorefrontErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown product", domain.ErrProductNotFound, http.StatusNotFound, domain.ENOTFOUND},
		{"empty cart", domain.ErrEmptyCart, http.StatusBadRequest, domain.EINVALID},
		{"cart locked by checkout", domain.ErrCheckoutPending, http.StatusConflict, domain.ECONFLICT},
		{"cart changed under checkout", domain.ErrCartChanged, http.StatusConflict, domain.ECONFLICT},
		{"payment provider refused", domain.Errorf(domain.EPAYMENT, "checkout.start", "Could not start checkout"), http.StatusPaymentRequired, domain.EPAYMENT},
		{"payment provider timed out", domain.Errorf(domain.EUNAVAILABLE, "checkout.start", "Payment provider did not respond"), http.StatusServiceUnavailable, domain.EUNAVAILABLE},
		{"uploads disabled", domain.Errorf(domain.ENOTIMPL, "product.add_image", "image uploads are not configured"), http.StatusNotImplemented, domain.ENOTIMPL},
		{"wrong admin token", domain.Unauthorized("admin.auth", "Invalid admin token"), http.StatusUnauthorized, domain.EUNAUTHORIZED},
		{"body over limit", domain.Errorf(domain.ETOOLARGE, "", "Payload too large"), http.StatusRequestEntityTooLarge, domain.ETOOLARGE},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, domain.EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := respond(t, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestErrorResponse_InternalHidesDetails(t *testing.T) {
	err := domain.Internal(errors.New("dial tcp 10.0.0.5:5432: refused"), "postgres.get_cart", "failed to load cart")
	rec, env := respond(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error occurred. Please try again later.", env.Error.Message)
}

func TestErrorResponse_StockShortfall(t *testing.T) {
	rec, env := respond(t, &domain.StockShortfallError{Items: []domain.InsufficientItem{
		{ProductID: "p-1", VariantKey: "large+red", Requested: 3, Available: 1},
		{ProductID: "p-2", VariantKey: "default", Requested: 1, Available: 0},
	}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ECONFLICT, env.Error.Code)
	require.Len(t, env.Error.InsufficientItems, 2)
	assert.Equal(t, "large+red", env.Error.InsufficientItems[0].VariantKey)
	assert.Equal(t, 1, env.Error.InsufficientItems[0].Available)
}

func TestErrorResponse_InsufficientStock(t *testing.T) {
	rec, env := respond(t, &domain.InsufficientStockError{
		ProductID: "p-1", VariantKey: "default", Requested: 5, Available: 2,
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, env.Error.InsufficientItems, 1)
	assert.Equal(t, domain.InsufficientItem{ProductID: "p-1", VariantKey: "default", Requested: 5, Available: 2},
		env.Error.InsufficientItems[0])
}

func TestValidationErrorResponse(t *testing.T) {
	t.Run("lists fields", func(t *testing.T) {
		err := domain.NewValidationError("cart.add_item", "productId", "is required")
		err = domain.AddFieldError(err, "quantity", "must be greater than 0")

		req := httptest.NewRequest(http.MethodPost, "/api/cart/items", nil)
		rec := httptest.NewRecorder()
		ValidationErrorResponse(rec, req, err)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var env errorEnvelope
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
		assert.Equal(t, map[string]string{
			"productId": "is required",
			"quantity":  "must be greater than 0",
		}, env.Error.Fields)
	})

	t.Run("falls back for other errors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/cart/items", nil)
		rec := httptest.NewRecorder()
		ValidationErrorResponse(rec, req, domain.ErrCartNotFound)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestErrorResponse_PlainTextClients(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/products/x", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, domain.ErrProductNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Product not found")
}

func TestAcceptsJSON(t *testing.T) {
	tests := []struct {
		name   string
		accept string
		want   bool
	}{
		{"no accept header", "", true},
		{"json", "application/json; charset=utf-8", true},
		{"browser", "text/html,application/xhtml+xml", false},
		{"curl plain text", "text/plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.want, acceptsJSON(req))
		})
	}
}
