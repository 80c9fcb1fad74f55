package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reservation results used as the "result" label of StockReservations.
const (
	ReservationReserved     = "reserved"
	ReservationInsufficient = "insufficient"
	ReservationUntracked    = "untracked"
	ReservationError        = "error"
)

// BusinessMetrics holds Prometheus metrics for stock and order observability.
type BusinessMetrics struct {
	// Stock
	StockReservations  *prometheus.CounterVec
	StockShortfalls    *prometheus.CounterVec
	AvailabilityChecks *prometheus.CounterVec
	Combinations       prometheus.Histogram

	// Cart
	CartItemsAdded *prometheus.CounterVec
	CartsMerged    prometheus.Counter
	CartsExpired   prometheus.Counter

	// Checkout and orders
	CheckoutStarted *prometheus.CounterVec
	OrdersCreated   prometheus.Counter
	OrdersFlagged   prometheus.Counter
	OrderValue      prometheus.Histogram

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// External API performance
	StripeAPILatency *prometheus.HistogramVec

	// Background jobs
	JobRuns *prometheus.CounterVec
}

// NewBusinessMetrics registers the business metrics with reg.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "brokkr"
	}
	factory := promauto.With(reg)
	subsystem := "business"

	return &BusinessMetrics{
		// =======================================================================
		// Stock
		// =======================================================================
		StockReservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stock_reservations_total",
				Help:      "Stock reservation attempts by outcome",
			},
			[]string{"result"},
		),
		StockShortfalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stock_shortfalls_total",
				Help:      "Lines reported short of stock",
			},
			[]string{"source"}, // source: cart_add, cart_validate, checkout
		),
		AvailabilityChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "availability_checks_total",
				Help:      "Batch availability validations by outcome",
			},
			[]string{"result"}, // result: available, short
		),
		Combinations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "variant_combinations",
				Help:      "Combinations generated per product",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
			},
		),

		// =======================================================================
		// Cart
		// =======================================================================
		CartItemsAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_items_added_total",
				Help:      "Add to cart actions",
			},
			[]string{"product_id"},
		),
		CartsMerged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "carts_merged_total",
				Help:      "Guest carts merged into user carts",
			},
		),
		CartsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "carts_expired_total",
				Help:      "Abandoned carts deleted by the cleanup job",
			},
		),

		// =======================================================================
		// Checkout and orders
		// =======================================================================
		CheckoutStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_started_total",
				Help:      "Checkout attempts by outcome",
			},
			[]string{"result"}, // result: created, short, failed
		),
		OrdersCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_created_total",
				Help:      "Orders created from completed checkouts",
			},
		),
		OrdersFlagged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_flagged_total",
				Help:      "Orders flagged for review after a failed reservation",
			},
		),
		OrderValue: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_cents",
				Help:      "Order totals in cents",
				Buckets:   []float64{1000, 2500, 5000, 10000, 25000, 50000, 100000, 250000},
			},
		),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_received_total",
				Help:      "Webhook deliveries received",
			},
			[]string{"provider", "event_type"},
		),
		WebhookProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_processed_total",
				Help:      "Webhook deliveries processed",
			},
			[]string{"provider", "event_type"},
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_failed_total",
				Help:      "Webhook deliveries that failed",
			},
			[]string{"provider", "event_type", "reason"},
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook handling time",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"provider", "event_type"},
		),

		StripeAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_runs_total",
				Help:      "Background job runs by outcome",
			},
			[]string{"job_type", "result"}, // result: completed, failed
		),
	}
}

// Business is the process-wide instance. It stays nil until
// InitBusinessMetrics runs, and every call site checks for that.
var Business *BusinessMetrics

// InitBusinessMetrics registers the metrics with the default registry.
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace, prometheus.DefaultRegisterer)
	return Business
}
