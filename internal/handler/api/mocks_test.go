package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal/domain"
)

// Function-field mocks. Unset functions fail loudly so a test only
// exercises the calls it wires.

type mockProductService struct {
	listFunc         func(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	getFunc          func(ctx context.Context, id string) (*domain.Product, error)
	createFunc       func(ctx context.Context, input domain.ProductInput) (*domain.Product, error)
	updateFunc       func(ctx context.Context, id string, input domain.ProductInput) (*domain.Product, error)
	deleteFunc       func(ctx context.Context, id string) error
	addImageFunc     func(ctx context.Context, productID string, params domain.AddImageParams) (*domain.ProductImage, error)
	mapImagesFunc    func(ctx context.Context, productID string, mappings []domain.ImageMapping) (*domain.Product, error)
	combinationsFunc func(ctx context.Context, productID string) ([]domain.CombinationStock, error)
	setStockFunc     func(ctx context.Context, productID string, entries []domain.VariantStock) (*domain.Product, error)
}

func (m *mockProductService) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return m.listFunc(ctx, filter)
}

func (m *mockProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return m.getFunc(ctx, id)
}

func (m *mockProductService) CreateProduct(ctx context.Context, input domain.ProductInput) (*domain.Product, error) {
	return m.createFunc(ctx, input)
}

func (m *mockProductService) UpdateProduct(ctx context.Context, id string, input domain.ProductInput) (*domain.Product, error) {
	return m.updateFunc(ctx, id, input)
}

func (m *mockProductService) DeleteProduct(ctx context.Context, id string) error {
	return m.deleteFunc(ctx, id)
}

func (m *mockProductService) AddImage(ctx context.Context, productID string, params domain.AddImageParams) (*domain.ProductImage, error) {
	return m.addImageFunc(ctx, productID, params)
}

func (m *mockProductService) MapImages(ctx context.Context, productID string, mappings []domain.ImageMapping) (*domain.Product, error) {
	return m.mapImagesFunc(ctx, productID, mappings)
}

func (m *mockProductService) Combinations(ctx context.Context, productID string) ([]domain.CombinationStock, error) {
	return m.combinationsFunc(ctx, productID)
}

func (m *mockProductService) SetVariantStock(ctx context.Context, productID string, entries []domain.VariantStock) (*domain.Product, error) {
	return m.setStockFunc(ctx, productID, entries)
}

type mockInventoryService struct {
	lookupFunc    func(ctx context.Context, productID string, itemIDs []string) (domain.VariantAvailability, error)
	stockInfoFunc func(ctx context.Context, productID string) (*domain.StockInfo, error)
}

func (m *mockInventoryService) GetVariantStock(ctx context.Context, productID string, itemIDs []string) (int, error) {
	avail, err := m.lookupFunc(ctx, productID, itemIDs)
	return avail.Count, err
}

func (m *mockInventoryService) LookupVariantStock(ctx context.Context, productID string, itemIDs []string) (domain.VariantAvailability, error) {
	return m.lookupFunc(ctx, productID, itemIDs)
}

func (m *mockInventoryService) StockInfo(ctx context.Context, productID string) (*domain.StockInfo, error) {
	return m.stockInfoFunc(ctx, productID)
}

func (m *mockInventoryService) Reduce(ctx context.Context, productID string, itemIDs []string, quantity int) error {
	panic("Reduce not expected")
}

func (m *mockInventoryService) Validate(ctx context.Context, requests []domain.StockRequest) (*domain.AvailabilityResult, error) {
	panic("Validate not expected")
}

type mockCartService struct {
	getOrCreateFunc func(ctx context.Context, sessionID string) (*domain.Cart, string, error)
	summaryFunc     func(ctx context.Context, sessionID string) (*domain.CartSummary, error)
	addItemFunc     func(ctx context.Context, sessionID string, params domain.AddCartItemParams) (*domain.CartSummary, error)
	updateFunc      func(ctx context.Context, sessionID, itemID string, quantity int) (*domain.CartSummary, error)
	removeFunc      func(ctx context.Context, sessionID, itemID string) (*domain.CartSummary, error)
	clearFunc       func(ctx context.Context, sessionID string) error
	validateFunc    func(ctx context.Context, sessionID string) (*domain.AvailabilityResult, error)
	mergeFunc       func(ctx context.Context, sessionID, userID string) (*domain.CartSummary, error)
}

func (m *mockCartService) GetOrCreateCart(ctx context.Context, sessionID string) (*domain.Cart, string, error) {
	return m.getOrCreateFunc(ctx, sessionID)
}

func (m *mockCartService) GetCartSummary(ctx context.Context, sessionID string) (*domain.CartSummary, error) {
	return m.summaryFunc(ctx, sessionID)
}

func (m *mockCartService) AddItem(ctx context.Context, sessionID string, params domain.AddCartItemParams) (*domain.CartSummary, error) {
	return m.addItemFunc(ctx, sessionID, params)
}

func (m *mockCartService) UpdateItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) (*domain.CartSummary, error) {
	return m.updateFunc(ctx, sessionID, itemID, quantity)
}

func (m *mockCartService) RemoveItem(ctx context.Context, sessionID, itemID string) (*domain.CartSummary, error) {
	return m.removeFunc(ctx, sessionID, itemID)
}

func (m *mockCartService) ClearCart(ctx context.Context, sessionID string) error {
	return m.clearFunc(ctx, sessionID)
}

func (m *mockCartService) ValidateCart(ctx context.Context, sessionID string) (*domain.AvailabilityResult, error) {
	return m.validateFunc(ctx, sessionID)
}

func (m *mockCartService) MergeCarts(ctx context.Context, sessionID, userID string) (*domain.CartSummary, error) {
	return m.mergeFunc(ctx, sessionID, userID)
}

type mockCheckoutService struct {
	startFunc func(ctx context.Context, sessionID string, params domain.CheckoutParams) (*domain.CheckoutSession, error)
}

func (m *mockCheckoutService) StartCheckout(ctx context.Context, sessionID string, params domain.CheckoutParams) (*domain.CheckoutSession, error) {
	return m.startFunc(ctx, sessionID, params)
}

type mockOrderService struct {
	getFunc  func(ctx context.Context, id string) (*domain.Order, error)
	listFunc func(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

func (m *mockOrderService) FulfillCheckout(ctx context.Context, completion domain.CheckoutCompletion) (*domain.Order, error) {
	panic("FulfillCheckout not expected")
}

func (m *mockOrderService) ReleaseCheckout(ctx context.Context, sessionID, cartID string) error {
	panic("ReleaseCheckout not expected")
}

func (m *mockOrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.getFunc(ctx, id)
}

func (m *mockOrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return m.listFunc(ctx, filter)
}

// decodeBody unmarshals a recorded response into a generic map.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body: %s", rr.Body.String())
	return body
}

// errorCode pulls error.code out of an error envelope.
func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	envelope, ok := decodeBody(t, rr)["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", rr.Body.String())
	code, _ := envelope["code"].(string)
	return code
}
