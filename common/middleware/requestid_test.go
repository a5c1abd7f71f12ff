package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates id when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/events", nil))

		require.NotEmpty(t, seen)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	})

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
		req.Header.Set(HeaderRequestID, "caller-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "caller-42", seen)
		assert.Equal(t, "caller-42", rec.Header().Get(HeaderRequestID))
	})

	for name, bad := range map[string]string{
		"too long":  strings.Repeat("a", maxRequestIDLen+1),
		"has space": "caller 42",
		"non-ascii": "caller-\u00e9",
	} {
		t.Run("replaces "+name+" caller id", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
			req.Header.Set(HeaderRequestID, bad)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.NotEqual(t, bad, seen)
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}

func TestGetRequestID(t *testing.T) {
	assert.Equal(t, "", GetRequestID(context.Background()))
	assert.Equal(t, "abc", GetRequestID(WithRequestID(context.Background(), "abc")))
	assert.Equal(t, "", GetRequestID(context.WithValue(context.Background(), RequestIDKey, 42)))
}
