// ABOUTME: End-to-end tests for the assembled tasktrack server
// ABOUTME: Drives login, the task API, response modes, metrics and live updates over real HTTP

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tasktrack/internal/api"
	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/config"
	"github.com/2389/tasktrack/internal/live"
	"github.com/2389/tasktrack/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:        "127.0.0.1:0",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "tasks.db")},
		Auth: config.AuthConfig{
			SessionSecret: "server-end-to-end-test-secret-32",
			AdminRole:     auth.RoleAdmin,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testServer struct {
	*httptest.Server
	srv *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	srv, err := New(testConfig(t), slog.Default())
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &testServer{Server: hs, srv: srv}
}

// client returns a cookie-keeping client that does not follow redirects.
func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *testServer) doJSON(t *testing.T, c *http.Client, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) login(t *testing.T, username, password string) *http.Client {
	t.Helper()
	c := s.client(t)
	resp := s.doJSON(t, c, http.MethodPost, "/auth/login", api.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return c
}

func (s *testServer) sessionCookie(t *testing.T, c *http.Client) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.URL, nil)
	for _, ck := range c.Jar.Cookies(req.URL) {
		if ck.Name == auth.DefaultCookieName {
			return ck.Name + "=" + ck.Value
		}
	}
	t.Fatal("no session cookie in jar")
	return ""
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestScenario_AdminCreatesTask(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "admin", "admin123")

	resp := s.doJSON(t, c, http.MethodPost, "/api/todos", map[string]any{"title": "Buy milk"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var task store.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "/api/todos/"+task.ID, resp.Header.Get("Location"))
	assert.True(t, task.CreatedAt.Equal(task.UpdatedAt))
	assert.Nil(t, task.CompletedAt)
	assert.False(t, task.IsCompleted)
}

func TestScenario_UserForbiddenOnWrites(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin", "admin123")
	resp := s.doJSON(t, admin, http.MethodPost, "/api/todos", map[string]any{"title": "Seed"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var seeded store.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&seeded))

	alice := s.login(t, "alice", "alice123")

	tests := []struct {
		method string
		path   string
		body   any
		want   int
	}{
		{http.MethodGet, "/api/todos", nil, http.StatusOK},
		{http.MethodGet, "/api/todos/" + seeded.ID, nil, http.StatusOK},
		{http.MethodPost, "/api/todos", map[string]any{"title": "nope"}, http.StatusForbidden},
		{http.MethodPut, "/api/todos/" + seeded.ID, map[string]any{"title": "nope"}, http.StatusForbidden},
		{http.MethodPost, "/api/todos/" + seeded.ID + "/complete", nil, http.StatusForbidden},
		{http.MethodDelete, "/api/todos/" + seeded.ID, nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		resp := s.doJSON(t, alice, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestScenario_CompleteIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "admin", "admin123")

	resp := s.doJSON(t, c, http.MethodPost, "/api/todos", map[string]any{"title": "Once"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task store.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))

	var first, second store.Task
	resp = s.doJSON(t, c, http.MethodPost, "/api/todos/"+task.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))

	resp = s.doJSON(t, c, http.MethodPost, "/api/todos/"+task.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))

	require.NotNil(t, first.CompletedAt)
	require.NotNil(t, second.CompletedAt)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
}

func TestScenario_LongTitleRejected(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "admin", "admin123")

	resp := s.doJSON(t, c, http.MethodPost, "/api/todos", map[string]any{"title": strings.Repeat("a", 300)})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "title", e.Field)

	resp = s.doJSON(t, c, http.MethodGet, "/api/todos", nil)
	var tasks []store.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	assert.Empty(t, tasks)
}

func TestResponseModes(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	resp := s.doJSON(t, c, http.MethodGet, "/api/todos", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/todos", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?returnUrl=%2Ftodos", resp.Header.Get("Location"))
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	tests := []struct {
		path string
		want string
	}{
		{"/health", "OK"},
		{"/health/ready", "ready"},
		{"/", "tasktrack"},
		{"/login", "Sign in"},
		{"/static/style.css", ":root"},
	}
	for _, tt := range tests {
		resp, err := c.Get(s.URL + tt.path)
		require.NoError(t, err)
		body := readBody(t, resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, tt.path)
		assert.Contains(t, body, tt.want, tt.path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "admin", "admin123")
	resp := s.doJSON(t, c, http.MethodPost, "/api/todos", map[string]any{"title": "Counted"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	s.doJSON(t, s.client(t), http.MethodGet, "/api/todos", nil)

	// Scraping needs no session.
	resp, err := s.client(t).Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)

	assert.Contains(t, body, `tasktrack_auth_logins_total{result="success"} 1`)
	assert.Contains(t, body, `tasktrack_auth_challenges_total{mode="unauthorized"} 1`)
	assert.Contains(t, body, `tasktrack_task_events_total{type="task.created"} 1`)
	assert.Contains(t, body, `tasktrack_http_requests_total{code="201",method="POST",route="api"} 1`)
	assert.Contains(t, body, "tasktrack_live_subscribers 0")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	srv, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	// Not exempt and not routed: an anonymous scrape is challenged.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLiveUpdates(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/live/tasks"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c := s.login(t, "admin", "admin123")
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": {s.sessionCookie(t, c)}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return s.srv.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	created := s.doJSON(t, c, http.MethodPost, "/api/todos", map[string]any{"title": "Pushed"})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev live.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, live.EventTaskCreated, ev.Type)
	assert.Equal(t, "admin", ev.Actor)
	require.NotNil(t, ev.Task)
	assert.Equal(t, "Pushed", ev.Task.Title)
}

func TestNewWithStore_InvalidBridgeBaseURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.BridgeBaseURL = "not a url"
	_, err := NewWithStore(cfg, store.NewMemoryStore(), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge_base_url")
}

func TestNewWithStore_DuplicateUsers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Users = []config.UserConfig{
		{Username: "bob", Password: "a"},
		{Username: "BOB", Password: "b"},
	}
	_, err := NewWithStore(cfg, store.NewMemoryStore(), slog.Default())
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv, err := New(testConfig(t), slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "256.0.0.1:99999"
	srv, err := NewWithStore(cfg, store.NewMemoryStore(), slog.Default())
	require.NoError(t, err)
	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening")
}

func TestRecoverPanics(t *testing.T) {
	h := recoverPanics(slog.Default(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/todos", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/tasktrack/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tasktrack/ts", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join("tasktrack", "tailscale")))
}
