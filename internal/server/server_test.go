package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolgate/internal/config"
)

func newTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{
		APIKey: "gateway-key",
		Providers: []config.Provider{{
			Name:         "fake",
			Type:         "openai",
			APIBase:      upstreamURL,
			Models:       []string{"test-model"},
			DefaultTools: []string{"get_time"},
		}},
		Router: config.RouterConfig{Default: "fake,test-model"},
	}))
	_, err := mgr.Load()
	require.NoError(t, err)

	s, err := New(mgr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Routes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"pong\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	h := newTestServer(t, upstream.URL).Handler()
	auth := map[string]string{"Authorization": "Bearer gateway-key", "X-User-ID": "alice"}

	t.Run("health needs no key", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var health struct {
			Status    string   `json:"status"`
			Providers int      `json:"providers"`
			Tools     []string `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, 1, health.Providers)
		assert.Contains(t, health.Tools, "get_time")
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("chat requires the gateway key", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"ping"}]}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("chat and conversation lookup", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/chat/completions",
			`{"messages":[{"role":"user","content":"ping"}],"conversation_id":"conv-1"}`, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"content":"pong"`)

		rec = do(t, h, http.MethodGet, "/v1/conversations/conv-1", "", auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"user_id":"alice"`)

		other := map[string]string{"Authorization": "Bearer gateway-key", "X-User-ID": "mallory"}
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/conversations/conv-1", "", other).Code)
	})

	t.Run("models", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/models", "", auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"fake,test-model"`)
	})

	t.Run("telemetry absorbed before auth", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/log_event", `{}`, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/unknown", "", auth)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_found_error")
	})
}
