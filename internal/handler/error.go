package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/middleware"
	"github.com/dukerupert/brokkr/internal/telemetry"
)

// errorBody is the JSON error envelope: {"error": {...}}.
type errorBody struct {
	Code              string                    `json:"code"`
	Message           string                    `json:"message"`
	Fields            map[string]string         `json:"fields,omitempty"`
	InsufficientItems []domain.InsufficientItem `json:"insufficientItems,omitempty"`
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.ENOTIMPL:
		return http.StatusNotImplemented
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse logs err and writes it to the client. Internal errors are
// reported to Sentry and answered with a generic message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"status", status,
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, "op", op)
	}

	logger := middleware.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
		})
	} else {
		logger.Info("request rejected", attrs...)
	}

	body := errorBody{
		Code:    code,
		Message: domain.ErrorMessage(err),
		Fields:  domain.GetValidationFields(err),
	}
	body.InsufficientItems = insufficientItems(err)

	if !acceptsJSON(r) {
		http.Error(w, body.Message, status)
		return
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// ValidationErrorResponse writes a 400 with per-field messages. Errors that
// are not validation errors go through ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if !domain.IsValidationError(err) {
		ErrorResponse(w, r, err)
		return
	}
	middleware.GetLogger(r.Context()).Info("validation failed", "error", err.Error())

	writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
		Code:    domain.EINVALID,
		Message: "Validation failed",
		Fields:  domain.GetValidationFields(err),
	}})
}

func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// insufficientItems lists the shortfalls carried by stock errors, so a
// storefront can point at the lines to fix.
func insufficientItems(err error) []domain.InsufficientItem {
	var shortfall *domain.StockShortfallError
	if errors.As(err, &shortfall) {
		return shortfall.Items
	}
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		return []domain.InsufficientItem{{
			ProductID:  insufficient.ProductID,
			VariantKey: insufficient.VariantKey,
			Requested:  insufficient.Requested,
			Available:  insufficient.Available,
		}}
	}
	return nil
}

// acceptsJSON reports whether to answer with JSON. This is a JSON API, so
// only a client that asks for HTML or plain text and not JSON gets text.
func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.HasSuffix(r.URL.Path, ".json") {
		return true
	}
	return !strings.Contains(accept, "text/html") && !strings.Contains(accept, "text/plain")
}
