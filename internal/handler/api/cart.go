package api

import (
	"net/http"

	"github.com/dukerupert/brokkr/internal/cookie"
	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/handler"
	"github.com/dukerupert/brokkr/internal/middleware"
)

// CartHandler serves the session cart. The session ID lives in the
// brokkr_session cookie and is issued on the first add.
type CartHandler struct {
	carts   domain.CartService
	cookies *cookie.Config
}

func NewCartHandler(carts domain.CartService, cookies *cookie.Config) *CartHandler {
	return &CartHandler{carts: carts, cookies: cookies}
}

func sessionID(r *http.Request) string {
	return cookie.Get(r, cookie.SessionCookieName)
}

func (h *CartHandler) keepSession(w http.ResponseWriter, r *http.Request, id string) {
	if id != "" && id != sessionID(r) {
		h.cookies.SetSession(w, cookie.SessionCookieName, id, cookie.SessionMaxAge)
	}
}

// emptySummary is what a visitor without a cart sees. No cart is created
// just for looking.
func emptySummary() *domain.CartSummary {
	return domain.Summarize(&domain.Cart{Status: domain.CartStatusOpen, Items: []domain.CartItem{}})
}

// View handles GET /cart
func (h *CartHandler) View(w http.ResponseWriter, r *http.Request) {
	summary, err := h.carts.GetCartSummary(r.Context(), sessionID(r))
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			handler.JSON(w, http.StatusOK, emptySummary())
			return
		}
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, summary)
}

// AddItem handles POST /cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var params domain.AddCartItemParams
	if err := handler.DecodeJSON(r, "api.cart.add_item", &params); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	_, session, err := h.carts.GetOrCreateCart(r.Context(), sessionID(r))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.keepSession(w, r, session)

	summary, err := h.carts.AddItem(r.Context(), session, params)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, summary)
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// UpdateItem handles PATCH /cart/items/{itemID}. Quantity 0 removes the line.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.update_item"

	var req updateQuantityRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if req.Quantity == nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError(op, "quantity", "is required"))
		return
	}

	summary, err := h.carts.UpdateItemQuantity(r.Context(), sessionID(r), r.PathValue("itemID"), *req.Quantity)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, summary)
}

// RemoveItem handles DELETE /cart/items/{itemID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	summary, err := h.carts.RemoveItem(r.Context(), sessionID(r), r.PathValue("itemID"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, summary)
}

// Clear handles DELETE /cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.ClearCart(r.Context(), sessionID(r)); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.NoContent(w)
}

// Validate handles POST /cart/validate. Shortfalls are reported in the body
// with status 200; nothing is reserved.
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.carts.ValidateCart(r.Context(), sessionID(r))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, result)
}

// Merge handles POST /cart/merge for a customer who just signed in. The
// guest cart folds into the customer's cart and the cookie follows it.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	summary, err := h.carts.MergeCarts(r.Context(), sessionID(r), middleware.GetUserID(r.Context()))
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	h.keepSession(w, r, summary.Cart.SessionID)
	handler.JSON(w, http.StatusOK, summary)
}
