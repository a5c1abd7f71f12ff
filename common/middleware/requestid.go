// Package middleware holds HTTP middleware shared by the agent's host surface.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key under which the request id is stored.
const RequestIDKey = contextKey("request-id")

// HeaderRequestID is propagated from the caller when present.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen bounds caller-supplied ids.
const maxRequestIDLen = 128

// RequestID tags every request with an id and echoes it on the response.
// A caller's X-Request-ID is reused when it is short and printable ASCII;
// otherwise a fresh id is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if !acceptable(requestID) {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

func acceptable(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
