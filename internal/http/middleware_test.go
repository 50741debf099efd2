package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := IdempotencyMiddleware(next)

	tests := []struct {
		name   string
		method string
		key    string
		want   int
	}{
		{"post without key", http.MethodPost, "", http.StatusBadRequest},
		{"post with short key", http.MethodPost, "short", http.StatusBadRequest},
		{"post with valid key", http.MethodPost, "0123456789abcdef", http.StatusNoContent},
		{"get skips the check", http.MethodGet, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/bookings", nil)
			if tt.key != "" {
				req.Header.Set("Idempotency-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLoggerFromContext(t *testing.T) {
	var seen observability.Logger
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l, ok := LoggerFromContext(r.Context())
		require.True(t, ok)
		seen = l
	})
	rec := httptest.NewRecorder()
	LoggerMiddleware(observability.NewLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, seen)

	_, ok := LoggerFromContext(context.Background())
	require.False(t, ok)
}
