package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/brokkr/internal"
)

// Storage holds uploaded product images.
type Storage interface {
	// Put stores content under key and returns the public URL.
	Put(ctx context.Context, key string, content io.Reader, contentType string) (string, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// URL returns the public URL for key.
	URL(key string) string
}

// NewStorage selects local disk or R2 from configuration.
func NewStorage(cfg internal.StorageConfig) (Storage, error) {
	switch cfg.Provider {
	case "local", "":
		s, err := NewLocalStorage(cfg.LocalPath, cfg.LocalURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "r2":
		s, err := NewR2Storage(R2Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretKey,
			BucketName:  cfg.R2BucketName,
			PublicURL:   cfg.R2PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, ErrUnknownProvider(cfg.Provider)
	}
}

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ImageKey builds a unique object key for a product image, e.g.
// "products/<product>/<uuid>.jpg". Content types other than common
// web image formats are rejected.
func ImageKey(productID, contentType string) (string, error) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return "", ErrUnsupportedContentType(contentType)
	}
	if productID == "" || strings.ContainsAny(productID, `/\.`) {
		return "", newStorageError(codeInvalid, fmt.Sprintf("invalid product id for key: %q", productID))
	}
	return path.Join("products", productID, uuid.NewString()+ext), nil
}
