package api

import (
	"net/http"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/handler"
)

type CheckoutHandler struct {
	checkout domain.CheckoutService
}

func NewCheckoutHandler(checkout domain.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// Start handles POST /checkout. Stock shortfalls answer 409 with the
// insufficient lines; otherwise the client is sent the hosted payment URL.
// An empty body is accepted and uses the configured return URLs.
func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	var params domain.CheckoutParams
	if r.ContentLength != 0 {
		if err := handler.DecodeJSON(r, "api.checkout.start", &params); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}

	session, err := h.checkout.StartCheckout(r.Context(), sessionID(r), params)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusCreated, session)
}
