package api

import (
	"net/http"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/handler"
)

// OrderHandler is the admin view of orders, mainly to work through the
// ones flagged for review.
type OrderHandler struct {
	orders domain.OrderService
}

func NewOrderHandler(orders domain.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// List handles GET /orders?needsReview=true&limit=&offset=
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "api.orders.list"

	needsReview, err := handler.QueryBool(r, op, "needsReview")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	limit, err := handler.QueryInt(r, op, "limit", 50)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	offset, err := handler.QueryInt(r, op, "offset", 0)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), domain.OrderFilter{
		NeedsReview: needsReview,
		Limit:       min(limit, 200),
		Offset:      offset,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// Get handles GET /orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, o)
}
