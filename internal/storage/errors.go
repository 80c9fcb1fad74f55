package storage

import "fmt"

// Codes mirror the domain error codes without importing the domain package.
const (
	codeInternal = "internal"
	codeInvalid  = "invalid"
	codeNotFound = "not_found"
)

// StorageError carries a code that the HTTP layer maps to a status.
type StorageError struct {
	Code    string
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}

// ErrorCode returns the error code for HTTP status mapping.
func (e *StorageError) ErrorCode() string {
	return e.Code
}

func newStorageError(code, message string) *StorageError {
	return &StorageError{Code: code, Message: message}
}

var (
	ErrR2AccountIDRequired   = newStorageError(codeInvalid, "R2 account ID is required")
	ErrR2CredentialsRequired = newStorageError(codeInvalid, "R2 credentials are required")
	ErrR2BucketRequired      = newStorageError(codeInvalid, "R2 bucket name is required")
	ErrInvalidKey            = newStorageError(codeInvalid, "storage key escapes the storage root")
)

func ErrFileNotFound(key string) error {
	return newStorageError(codeNotFound, fmt.Sprintf("file not found: %s", key))
}

func ErrUnknownProvider(provider string) error {
	return newStorageError(codeInvalid, fmt.Sprintf("unknown storage provider: %s", provider))
}

func ErrUnsupportedContentType(contentType string) error {
	return newStorageError(codeInvalid, fmt.Sprintf("unsupported image type: %q", contentType))
}

func errWrite(op string, err error) error {
	return newStorageError(codeInternal, fmt.Sprintf("%s: %v", op, err))
}
