package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/internal/profile"
	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Addr: "127.0.0.1", Port: 0, Data: t.TempDir(), Version: "test"}
	llm := ai.LLMFunc(func(context.Context, []ai.Message) (string, error) {
		return `{"action": "code", "code": "result = 1"}`, nil
	})
	registry := session.NewRegistry(session.NewAnalystFactory(session.AnalystConfig{LLM: llm, IdleDelay: -1}))
	return NewServer(p, nil, registry, Options{})
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path string
		want string
	}{
		{path: "/healthz", want: "Service ready."},
		{path: "/", want: `"message":"tablesense API is running"`},
		{path: "/api/data/status/sales.csv", want: `"status":"idle"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		})
	}
}

func TestServerStartShutdown(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NotNil(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "Service ready.", string(body))

	s.Shutdown(ctx)
	assert.Zero(t, s.Registry.Len())
}
