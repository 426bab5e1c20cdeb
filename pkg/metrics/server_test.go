package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Status(t *testing.T) {
	s := NewServer(ServerConfig{
		Status: func(ctx context.Context) (any, error) {
			return map[string]any{"status": "ok", "total": 42}, nil
		},
	})
	assert.Equal(t, 9090, s.Port())

	rec := serve(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","total":42}`, rec.Body.String())

	rec = serve(t, s, http.MethodHead, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = serve(t, s, http.MethodPost, "/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StatusFailure(t *testing.T) {
	s := NewServer(ServerConfig{
		Status: func(ctx context.Context) (any, error) {
			_, hasDeadline := ctx.Deadline()
			if !hasDeadline {
				return nil, errors.New("status called without a deadline")
			}
			return nil, errors.New("store closed")
		},
	})

	rec := serve(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "store closed", body["error"])
}

func TestServer_Routes(t *testing.T) {
	s := NewServer(ServerConfig{Port: 9191})
	assert.Equal(t, 9191, s.Port())

	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/status").Code, "no status source")
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/").Code)
}

// TestServer_Metrics initializes the process registry; the disabled check
// must run first.
func TestServer_Metrics(t *testing.T) {
	require.False(t, IsEnabled())
	rec := serve(t, NewServer(ServerConfig{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	InitRegistry()
	require.True(t, IsEnabled())
	rec = serve(t, NewServer(ServerConfig{}), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"), "runtime collectors are registered")
}
