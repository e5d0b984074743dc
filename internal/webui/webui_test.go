// ABOUTME: End-to-end tests for the task pages over a real HTTP server
// ABOUTME: Each page calls back into the API through the bridge with the browser's cookies

package webui

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tasktrack/internal/api"
	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/store"
)

var uiTestSecret = []byte("webui-end-to-end-test-secret-32b")

type site struct {
	srv   *httptest.Server
	store *store.MemoryStore
}

func newSite(t *testing.T) *site {
	t.Helper()
	dir, err := auth.NewMemoryDirectory(auth.DefaultCredentials()...)
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager(dir, uiTestSecret, auth.SessionOptions{})
	require.NoError(t, err)
	engine := auth.NewEngine(sessions)

	ui, err := New(engine)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	mux := http.NewServeMux()
	api.New(st, engine, api.WithLoginFailure(ui.LoginFailure)).Register(mux)
	ui.RegisterRoutes(mux)

	srv := httptest.NewServer(engine.Middleware(mux))
	t.Cleanup(srv.Close)
	return &site{srv: srv, store: st}
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	t      *testing.T
	site   *site
	client *http.Client
}

func (s *site) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		site: s,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.site.srv.URL+path, nil)
	require.NoError(b.t, err)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return b.send(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.site.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return b.send(req)
}

func (b *browser) send(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) cookie(name string) string {
	u, _ := url.Parse(b.site.srv.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (b *browser) login(username, password string) {
	b.t.Helper()
	resp, _ := b.post("/auth/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	require.NotEmpty(b.t, b.cookie(auth.DefaultCookieName))
}

// csrf loads a page so the CSRF cookie is set and returns its value.
func (b *browser) csrf() string {
	b.t.Helper()
	if tok := b.cookie(CSRFCookieName); tok != "" {
		return tok
	}
	resp, _ := b.get("/todos")
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	tok := b.cookie(CSRFCookieName)
	require.NotEmpty(b.t, tok)
	return tok
}

func (s *site) tasks(t *testing.T) []*store.Task {
	t.Helper()
	tasks, err := s.store.ListTasks(context.Background())
	require.NoError(t, err)
	return tasks
}

func (s *site) seed(t *testing.T, title string, desc *string) *store.Task {
	t.Helper()
	task, err := s.store.CreateTask(context.Background(), store.TaskInput{Title: title, Description: desc})
	require.NoError(t, err)
	return task
}

func TestLanding_Anonymous(t *testing.T) {
	b := newSite(t).browser(t)

	resp, body := b.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/login"`)
}

func TestTodos_AnonymousRedirectsToLogin(t *testing.T) {
	b := newSite(t).browser(t)

	resp, _ := b.get("/todos")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?returnUrl=%2Ftodos", resp.Header.Get("Location"))
}

func TestLoginPage_CarriesReturnURL(t *testing.T) {
	b := newSite(t).browser(t)

	resp, body := b.get("/login?returnUrl=%2Ftodos%2Fabc")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="returnUrl" value="/todos/abc"`)
}

func TestLogin_FormSuccessRedirects(t *testing.T) {
	b := newSite(t).browser(t)

	resp, _ := b.post("/auth/login", url.Values{
		"username":  {"admin"},
		"password":  {"admin123"},
		"returnUrl": {"/todos?x=1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/todos?x=1", resp.Header.Get("Location"))

	resp, body := b.get("/todos")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Add task")
	assert.Contains(t, body, "admin")
}

func TestLogin_FormFailureRendersPage(t *testing.T) {
	b := newSite(t).browser(t)

	resp, body := b.post("/auth/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Invalid username or password")
	assert.Contains(t, body, `value="alice"`)
	assert.Empty(t, b.cookie(auth.DefaultCookieName))
}

func TestLoginPage_AlreadySignedIn(t *testing.T) {
	b := newSite(t).browser(t)
	b.login("alice", "alice123")

	resp, _ := b.get("/login?returnUrl=https%3A%2F%2Fevil.example")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, api.DefaultReturnURL, resp.Header.Get("Location"))
}

func TestCreate_AdminThroughForm(t *testing.T) {
	s := newSite(t)
	b := s.browser(t)
	b.login("admin", "admin123")

	resp, _ := b.post("/todos", url.Values{
		CSRFFieldName: {b.csrf()},
		"title":       {"Buy milk"},
		"description": {"two litres"},
		"dueDate":     {"2026-11-01"},
		"priority":    {"high"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/todos", resp.Header.Get("Location"))

	tasks := s.tasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Buy milk", tasks[0].Title)
	assert.Equal(t, store.PriorityHigh, tasks[0].Priority)
	require.NotNil(t, tasks[0].DueDate)
	assert.Equal(t, "2026-11-01", tasks[0].DueDate.UTC().Format("2006-01-02"))

	_, body := b.get("/todos")
	assert.Contains(t, body, "Buy milk")
}

func TestCreate_RequiresCSRF(t *testing.T) {
	s := newSite(t)
	b := s.browser(t)
	b.login("admin", "admin123")
	b.csrf()

	resp, _ := b.post("/todos", url.Values{"title": {"sneaky"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = b.post("/todos", url.Values{CSRFFieldName: {"forged"}, "title": {"sneaky"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, s.tasks(t))
}

func TestCreate_LongTitleShowsReason(t *testing.T) {
	s := newSite(t)
	b := s.browser(t)
	b.login("admin", "admin123")

	resp, body := b.post("/todos", url.Values{
		CSRFFieldName: {b.csrf()},
		"title":       {strings.Repeat("x", 300)},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "at most 255 characters")
	assert.Empty(t, s.tasks(t))
}

func TestCreate_BadDueDate(t *testing.T) {
	s := newSite(t)
	b := s.browser(t)
	b.login("admin", "admin123")

	resp, body := b.post("/todos", url.Values{
		CSRFFieldName: {b.csrf()},
		"title":       {"ok"},
		"dueDate":     {"next week"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "YYYY-MM-DD")
	assert.Contains(t, body, `value="next week"`)
	assert.Empty(t, s.tasks(t))
}

func TestUserRole_ReadOnly(t *testing.T) {
	s := newSite(t)
	s.seed(t, "Existing", nil)
	b := s.browser(t)
	b.login("alice", "alice123")

	resp, body := b.get("/todos")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Existing")
	assert.NotContains(t, body, "Add task")

	// The page hides the form, and the API still refuses the write.
	resp, body = b.post("/todos", url.Values{CSRFFieldName: {b.csrf()}, "title": {"nope"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Admin role required")
	assert.Len(t, s.tasks(t), 1)
}

func TestDetail_RendersMarkdown(t *testing.T) {
	s := newSite(t)
	desc := "Some **bold** text\n\n<script>alert(1)</script>"
	task := s.seed(t, "Notes", &desc)
	b := s.browser(t)
	b.login("alice", "alice123")

	resp, body := b.get("/todos/" + task.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<strong>bold</strong>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
}

func TestDetail_NotFound(t *testing.T) {
	s := newSite(t)
	b := s.browser(t)
	b.login("alice", "alice123")

	for _, id := range []string{"0b4f3c8e-8f0a-4c55-9d0e-6a2b1f1f2e3d", "not-a-uuid"} {
		resp, body := b.get("/todos/" + id)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, id)
		assert.Contains(t, body, "does not exist")
	}
}

func TestEdit_UpdatesThroughBridge(t *testing.T) {
	s := newSite(t)
	task := s.seed(t, "Draft", nil)
	b := s.browser(t)
	b.login("admin", "admin123")

	resp, _ := b.post("/todos/"+task.ID, url.Values{
		CSRFFieldName: {b.csrf()},
		"title":       {"Final"},
		"priority":    {"urgent"},
		"isCompleted": {"on"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/todos/"+task.ID, resp.Header.Get("Location"))

	got, err := s.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.Equal(t, store.PriorityUrgent, got.Priority)
	assert.True(t, got.IsCompleted)
	assert.NotNil(t, got.CompletedAt)
}

func TestComplete_ThroughForm(t *testing.T) {
	s := newSite(t)
	task := s.seed(t, "Finish me", nil)
	b := s.browser(t)
	b.login("admin", "admin123")

	resp, _ := b.post("/todos/"+task.ID+"/complete", url.Values{CSRFFieldName: {b.csrf()}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	got, err := s.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
	assert.NotNil(t, got.CompletedAt)
}

func TestDelete_ThroughForm(t *testing.T) {
	s := newSite(t)
	task := s.seed(t, "Remove me", nil)
	b := s.browser(t)
	b.login("admin", "admin123")

	resp, _ := b.post("/todos/"+task.ID+"/delete", url.Values{CSRFFieldName: {b.csrf()}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Empty(t, s.tasks(t))

	resp, _ = b.post("/todos/"+task.ID+"/delete", url.Values{CSRFFieldName: {b.csrf()}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogout_FormRedirectsToLogin(t *testing.T) {
	b := newSite(t).browser(t)
	b.login("admin", "admin123")

	resp, _ := b.post("/auth/logout", url.Values{CSRFFieldName: {b.csrf()}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Empty(t, b.cookie(auth.DefaultCookieName))

	resp, _ = b.get("/todos")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestParseTaskForm(t *testing.T) {
	newReq := func(v url.Values) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader(v.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r
	}

	_, req, err := parseTaskForm(newReq(url.Values{"title": {"t"}}))
	require.NoError(t, err)
	assert.Nil(t, req.Description)
	assert.Nil(t, req.DueDate)
	assert.Nil(t, req.Priority)
	assert.False(t, req.IsCompleted)

	_, req, err = parseTaskForm(newReq(url.Values{"title": {"t"}, "priority": {"2"}, "isCompleted": {"true"}}))
	require.NoError(t, err)
	require.NotNil(t, req.Priority)
	assert.Equal(t, store.PriorityNormal, *req.Priority)
	assert.True(t, req.IsCompleted)

	form, _, err := parseTaskForm(newReq(url.Values{"title": {"t"}, "priority": {"extreme"}}))
	var ve *store.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "priority", ve.Field)
	assert.Equal(t, "extreme", form.Priority)
}
