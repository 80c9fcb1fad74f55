package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	KB = 1024
	MB = 1024 * KB

	// DefaultMaxBodySize covers every JSON endpoint.
	DefaultMaxBodySize = 1 * MB

	// UploadMaxBodySize is for product image uploads.
	UploadMaxBodySize = 10 * MB

	// WebhookMaxBodySize matches the largest payload Stripe sends.
	WebhookMaxBodySize = 256 * KB
)

// MaxBodySize rejects bodies over maxBytes with 413. Declared lengths are
// checked up front; undeclared ones fail when the handler reads past the limit.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxBytes {
				respondTooLarge(w, r, maxBytes)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

const (
	DefaultTimeout = 30 * time.Second

	// CheckoutTimeout leaves room for the payment provider's own timeout.
	CheckoutTimeout = 45 * time.Second
)

// Timeout cancels the request context after timeout and answers 503 if the
// handler has not started writing by then.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{ResponseWriter: w, done: done}
			r = r.WithContext(ctx)

			go func() {
				defer close(done)
				next.ServeHTTP(tw, r)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				if !tw.wroteHeader {
					tw.timedOut = true
					respondTimeout(w, r)
				}
			}
		})
	}
}

// timeoutWriter drops writes from a handler that outlived its deadline.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
	done        chan struct{}
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader || tw.timedOut {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, context.DeadlineExceeded
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}
