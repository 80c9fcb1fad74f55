package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/brokkr/internal/telemetry"
)

// Job type constants for cleanup jobs
const (
	JobTypeExpireAbandonedCarts = "cleanup:abandoned_carts"
)

// CartSweeper deletes carts nobody has touched since before.
type CartSweeper interface {
	DeleteAbandonedCarts(ctx context.Context, before time.Time) (int64, error)
}

// CleanupResult holds the result of a cleanup operation
type CleanupResult struct {
	Cutoff       time.Time `json:"cutoff"`
	CartsDeleted int64     `json:"cartsDeleted"`
}

// ExpireAbandonedCarts deletes open and merged carts idle for longer than
// retention, measured from now. Converted carts back orders and are kept.
func ExpireAbandonedCarts(ctx context.Context, carts CartSweeper, retention time.Duration, now time.Time) (*CleanupResult, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("cart retention must be positive, got %s", retention)
	}

	cutoff := now.Add(-retention)
	n, err := carts.DeleteAbandonedCarts(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete abandoned carts: %w", err)
	}

	if telemetry.Business != nil && n > 0 {
		telemetry.Business.CartsExpired.Add(float64(n))
	}
	return &CleanupResult{Cutoff: cutoff, CartsDeleted: n}, nil
}

// NewCartCleanupJob wraps ExpireAbandonedCarts for the worker.
func NewCartCleanupJob(carts CartSweeper, retention time.Duration, logger *slog.Logger) Job {
	return Job{
		Type:    JobTypeExpireAbandonedCarts,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			result, err := ExpireAbandonedCarts(ctx, carts, retention, time.Now())
			if err != nil {
				return err
			}
			if result.CartsDeleted > 0 {
				logger.Info("expired abandoned carts",
					"count", result.CartsDeleted,
					"cutoff", result.Cutoff,
				)
			}
			return nil
		},
	}
}
