package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	project := filepath.Join(dir, "acme", "space-game")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "index.html"), []byte("<html><head></head><body></body></html>"), 0o644))

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Database.Path = ":memory:"
	cfg.GitHub.Provider = "dir"
	cfg.GitHub.Dir = dir
	cfg.RateLimit.Enabled = false
	return cfg
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func request(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServerRoutes(t *testing.T) {
	s := newServer(t, testConfig(t))

	w := request(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = request(s, http.MethodPost, "/api/sandbox/game-session", `{"gameId":"space-game-test-abc123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessionID := gjson.Get(w.Body.String(), "sessionId").String()

	w = request(s, http.MethodGet, "/api/sandbox/get-data?sessionId="+sessionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "success").Bool())

	w = request(s, http.MethodGet, "/api/fetch-repo?url=https://github.com/acme/space-game", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, gjson.Get(w.Body.String(), `files.index\.html`).String(), `<script src="http://localhost:8000/sandbox-bridge.js"></script>`)

	w = request(s, http.MethodGet, "/sandbox-bridge.js", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "/embed/bridge")

	w = request(s, http.MethodGet, "/api/fetch-repo?url=https://github.com/acme/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(s, http.MethodPost, "/embeds", `{"url":"https://github.com/acme/space-game"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	embedOrigin := gjson.Get(w.Body.String(), "origin").String()
	assert.True(t, strings.HasSuffix(embedOrigin, ".local.webcontainer.io"))

	w = request(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gamelab_http_requests_total")
}

func TestServerCORS(t *testing.T) {
	s := newServer(t, testConfig(t))

	tests := []struct {
		origin string
		allow  bool
	}{
		{"http://localhost:5173", true},
		{"https://stackblitz.com", true},
		{"https://abc.webcontainer.io", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			w := request(s, http.MethodOptions, "/embeds", "", map[string]string{
				"Origin":                        tt.origin,
				"Access-Control-Request-Method": http.MethodPost,
			})
			if tt.allow {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Equal(t, http.StatusForbidden, w.Code)
			}
		})
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embed.Container = "vm"
	_, err := NewServer(cfg, nil)
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())
	cfg.Server.Port = port

	s := newServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + port + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
