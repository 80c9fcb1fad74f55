package routes

import (
	"net/http"

	"github.com/dukerupert/brokkr/internal/handler/api"
	"github.com/dukerupert/brokkr/internal/middleware"
)

// StorefrontDeps contains dependencies for public storefront routes
type StorefrontDeps struct {
	// Catalog and stock lookups
	ProductHandler *api.ProductHandler

	// Session cart
	CartHandler *api.CartHandler

	// Checkout, rate limited per client IP
	CheckoutHandler *api.CheckoutHandler
	CheckoutLimiter *middleware.RateLimiter
}

// AdminDeps contains dependencies for admin routes
type AdminDeps struct {
	// Token is the bearer token admin requests must present. Empty disables
	// the admin routes.
	Token string

	ProductHandler *api.ProductHandler
	OrderHandler   *api.OrderHandler
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// SystemDeps contains dependencies for health and metrics endpoints
type SystemDeps struct {
	HealthHandler *api.HealthHandler
	Metrics       http.Handler
}
