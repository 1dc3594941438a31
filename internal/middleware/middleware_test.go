package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolgate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func managerWithKey(t *testing.T, key string) *config.Manager {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{APIKey: key}))
	return mgr
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		headers    map[string]string
		wantStatus int
		wantUser   string
	}{
		{
			name:       "no key configured",
			wantStatus: http.StatusOK,
			wantUser:   AnonymousUser,
		},
		{
			name:       "bearer token",
			key:        "secret",
			headers:    map[string]string{"Authorization": "Bearer secret", HeaderUserID: "alice"},
			wantStatus: http.StatusOK,
			wantUser:   "alice",
		},
		{
			name:       "x-api-key",
			key:        "secret",
			headers:    map[string]string{"X-API-Key": "secret"},
			wantStatus: http.StatusOK,
			wantUser:   AnonymousUser,
		},
		{
			name:       "wrong key",
			key:        "secret",
			headers:    map[string]string{"Authorization": "Bearer nope"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing key",
			key:        "secret",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := NewAuthMiddleware(managerWithKey(t, tt.key), testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = UserIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":{"message":"Proxy API key not authorized","type":"authentication_error"}}`, rec.Body.String())
			}
		})
	}
}

func TestTelemetrySink(t *testing.T) {
	var reached bool
	handler := NewTelemetrySinkMiddleware(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/log_event", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.False(t, reached)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	assert.True(t, reached)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "req-1", seen)
}

func TestLoggingPreservesFlusher(t *testing.T) {
	handler := NewLoggingMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("data: x\n\n"))
		flusher.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, rec.Flushed)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	New(mark("a")).Then(mark("b"), mark("c")).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}
