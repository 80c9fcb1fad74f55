package routes

import (
	"github.com/dukerupert/brokkr/internal/middleware"
	"github.com/dukerupert/brokkr/internal/router"
)

// RegisterAdminRoutes registers catalog management, stock ledger and order
// routes. All of them require the admin bearer token.
//
// They share paths with the storefront and differ by method, so a GET on a
// product stays public while PUT needs the token.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Group(
		middleware.RequireAdminToken(deps.Token),
		middleware.Timeout(middleware.DefaultTimeout),
	)
	json := admin.Group(middleware.MaxBodySize(middleware.DefaultMaxBodySize))

	// Product management
	json.Post("/products", deps.ProductHandler.Create)
	json.Put("/products/{id}", deps.ProductHandler.Update)
	json.Delete("/products/{id}", deps.ProductHandler.Delete)

	// Images; uploads get a larger body limit
	admin.Post("/products/{id}/images", deps.ProductHandler.AddImage,
		middleware.MaxBodySize(middleware.UploadMaxBodySize))
	json.Post("/products/{id}/images/map", deps.ProductHandler.MapImages)

	// Stock ledger
	json.Get("/products/{id}/combinations", deps.ProductHandler.Combinations)
	json.Put("/products/{id}/stock", deps.ProductHandler.SetStock)

	// Orders, mostly the review queue
	json.Get("/orders", deps.OrderHandler.List)
	json.Get("/orders/{id}", deps.OrderHandler.Get)
}
