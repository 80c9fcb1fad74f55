package domain

import (
	"errors"
	"fmt"
)

// Error codes shared by every layer. The HTTP layer maps them to status codes.
const (
	ECONFLICT     = "conflict"         // 409 - insufficient stock, duplicate checkout
	EINTERNAL     = "internal"         // 500 - details hidden from callers
	EINVALID      = "invalid"          // 400 - bad input
	ENOTFOUND     = "not_found"        // 404
	EUNAUTHORIZED = "unauthorized"     // 401 - missing or wrong admin token
	EFORBIDDEN    = "forbidden"        // 403
	ENOTIMPL      = "not_implemented"  // 501
	ERATELIMIT    = "rate_limit"       // 429
	EPAYMENT      = "payment_required" // 402 - payment provider rejected the request
	ETOOLARGE     = "too_large"        // 413 - request body over the limit
	EUNAVAILABLE  = "unavailable"      // 503 - timed out or dependency down
)

const internalErrorMessage = "An internal error occurred. Please try again later."

// Error is an application error carrying a machine-readable code, a message
// that is safe to show to callers, and the operation that produced it.
type Error struct {
	// Code is one of the E* constants.
	Code string

	// Message is shown to callers unless Code is EINTERNAL.
	Message string

	// Op names the failing operation, e.g. "inventory.reduce". Logged, never shown.
	Op string

	// Err is the wrapped cause.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// coder is implemented by typed errors that carry their own code without
// being an *Error, such as InsufficientStockError.
type coder interface {
	ErrorCode() string
}

// ErrorCode extracts the code from err. Errors that carry no code are internal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return EINVALID
	}

	return EINTERNAL
}

// ErrorMessage returns the caller-facing message for err. Internal errors
// collapse to a generic message so that causes never leak.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return internalErrorMessage
		}
		return e.Message
	}

	var c coder
	if errors.As(err, &c) && c.ErrorCode() != EINTERNAL {
		return err.Error()
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return "validation failed"
	}

	return internalErrorMessage
}

// ErrorOp extracts the operation name for logging.
func ErrorOp(err error) string {
	var e *Error
	if err != nil && errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Errorf builds a domain error with a formatted message.
func Errorf(code, op, format string, args ...any) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError attaches a code, operation and message to err. Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// =============================================================================
// Validation errors
// =============================================================================

// ValidationError collects per-field failures so a request body can report
// every problem at once.
type ValidationError struct {
	// Fields maps a field path such as "variantStock[2].stockCount" to a message.
	Fields map[string]string

	Op string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if e.Op != "" {
				return fmt.Sprintf("%s: %s: %s", e.Op, field, msg)
			}
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: validation failed for %d fields", e.Op, len(e.Fields))
	}
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(op, field, message string) error {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}

// AddFieldError records a field failure on err, creating a ValidationError
// when err is nil or of another type.
func AddFieldError(err error, field, message string) error {
	var ve *ValidationError
	if err != nil && errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}
	return &ValidationError{
		Fields: map[string]string{field: message},
	}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GetValidationFields returns the field map of a ValidationError, or nil.
func GetValidationFields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// =============================================================================
// Constructors
// =============================================================================

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("product.get", "product", id)
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

func Unauthorized(op, message string) error {
	return &Error{Code: EUNAUTHORIZED, Op: op, Message: message}
}

func Forbidden(op, message string) error {
	return &Error{Code: EFORBIDDEN, Op: op, Message: message}
}

// Invalid creates an EINVALID error for a single problem that is not tied to a field.
func Invalid(op, message string) error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

func Conflict(op, message string) error {
	return &Error{Code: ECONFLICT, Op: op, Message: message}
}

// Internal wraps an unexpected failure. Callers see a generic message.
// Example: domain.Internal(err, "inventory.reduce", "failed to decrement stock")
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Passthrough returns err unchanged when it already carries a code other
// than EINTERNAL, and wraps it as internal otherwise. Store errors flow
// through it so that not-found and invalid-id results keep their meaning.
func Passthrough(err error, op, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || IsValidationError(err) {
		return err
	}
	var c coder
	if errors.As(err, &c) {
		return err
	}
	return Internal(err, op, message)
}
