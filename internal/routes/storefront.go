package routes

import (
	"github.com/dukerupert/brokkr/internal/middleware"
	"github.com/dukerupert/brokkr/internal/router"
)

// RegisterStorefrontRoutes registers the customer-facing JSON API: catalog
// reads, stock lookups, the session cart and checkout.
func RegisterStorefrontRoutes(r *router.Router, deps StorefrontDeps) {
	public := r.Group(
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
	)

	// Catalog
	public.Get("/products", deps.ProductHandler.List)
	public.Get("/products/{id}", deps.ProductHandler.Get)
	public.Get("/products/{id}/stock", deps.ProductHandler.Stock)
	public.Get("/products/{id}/stock/variant", deps.ProductHandler.VariantStock)

	// Shopping cart
	public.Get("/cart", deps.CartHandler.View)
	public.Delete("/cart", deps.CartHandler.Clear)
	public.Post("/cart/items", deps.CartHandler.AddItem)
	public.Patch("/cart/items/{itemID}", deps.CartHandler.UpdateItem)
	public.Delete("/cart/items/{itemID}", deps.CartHandler.RemoveItem)
	public.Post("/cart/validate", deps.CartHandler.Validate)

	// Merging needs the signed-in customer from the upstream proxy
	customer := public.Group(middleware.WithUser, middleware.RequireUser)
	customer.Post("/cart/merge", deps.CartHandler.Merge)

	// Checkout talks to Stripe, so it gets a longer deadline and a tighter limit
	checkout := []router.Middleware{middleware.MaxBodySize(middleware.DefaultMaxBodySize)}
	if deps.CheckoutLimiter != nil {
		checkout = append(checkout, deps.CheckoutLimiter.Middleware)
	}
	checkout = append(checkout, middleware.Timeout(middleware.CheckoutTimeout))
	r.Post("/checkout", deps.CheckoutHandler.Start, checkout...)
}
