package database

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/brokkr/internal"
	"github.com/dukerupert/brokkr/internal/domain"
)

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stores, err := Open(ctx, internal.DatabaseConfig{Driver: internal.DriverMemory}, Options{Migrate: true}, logger)
	require.NoError(t, err)
	defer stores.Close(ctx)

	assert.Equal(t, internal.DriverMemory, stores.Driver)
	assert.NoError(t, stores.Ping(ctx))

	p := &domain.Product{Name: "Plug", BasePrice: decimal.NewFromInt(3)}
	require.NoError(t, stores.Products.CreateProduct(ctx, p))
	got, err := stores.Products.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plug", got.Name)
}

func TestOpen_UnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Open(context.Background(), internal.DatabaseConfig{Driver: "sqlite"}, Options{}, logger)
	assert.ErrorContains(t, err, "unknown database driver")
}
