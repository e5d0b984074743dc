// ABOUTME: Tests for the authorization policy middleware
// ABOUTME: Covers exemptions, challenges and the admin-only write matrix

package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu         sync.Mutex
	challenges map[ChallengeMode]int
	forbidden  int
}

func (r *countingRecorder) Challenged(mode ChallengeMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.challenges == nil {
		r.challenges = map[ChallengeMode]int{}
	}
	r.challenges[mode]++
}

func (r *countingRecorder) Forbidden() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forbidden++
}

func (r *countingRecorder) LoginAttempt(bool) {}

// newPolicyHandler wires a small mux the way the server does: reads need a
// session, writes need the admin role.
func newPolicyHandler(t *testing.T, rec Recorder) (http.Handler, *SessionManager) {
	t.Helper()
	sessions, _ := newTestSessions(t, SessionOptions{})
	engine := NewEngine(sessions,
		WithRecorder(rec),
		WithExemptions(Exemption{Method: http.MethodGet, Path: "/health"}, Exemption{Path: "/static", Prefix: true}),
	)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	noContent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux := http.NewServeMux()
	mux.Handle("GET /api/todos", ok)
	mux.Handle("GET /api/todos/{id}", ok)
	mux.Handle("POST /api/todos", engine.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))
	mux.Handle("PUT /api/todos/{id}", engine.RequireAdmin()(noContent))
	mux.Handle("DELETE /api/todos/{id}", engine.RequireAdmin()(noContent))
	mux.Handle("GET /todos", ok)
	mux.Handle("GET /health", ok)
	mux.Handle("GET /static/", ok)
	mux.Handle("GET /me", ok)
	mux.Handle("GET /{$}", ok)

	return engine.Middleware(mux), sessions
}

func TestEngine_RoleMatrix(t *testing.T) {
	handler, sessions := newPolicyHandler(t, nil)

	admin := issueCookie(t, sessions, &Principal{Name: "admin", Roles: []string{RoleAdmin}}, false)
	alice := issueCookie(t, sessions, &Principal{Name: "alice", Roles: []string{RoleUser}}, false)

	requests := []struct {
		method, path string
		write        bool
		success      int
	}{
		{http.MethodGet, "/api/todos", false, http.StatusOK},
		{http.MethodGet, "/api/todos/1", false, http.StatusOK},
		{http.MethodPost, "/api/todos", true, http.StatusCreated},
		{http.MethodPut, "/api/todos/1", true, http.StatusNoContent},
		{http.MethodDelete, "/api/todos/1", true, http.StatusNoContent},
	}

	for _, tt := range requests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.AddCookie(&http.Cookie{Name: admin.Name, Value: admin.Value})
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.success, rec.Code, "admin")

			rec = httptest.NewRecorder()
			req = httptest.NewRequest(tt.method, tt.path, nil)
			req.AddCookie(&http.Cookie{Name: alice.Name, Value: alice.Value})
			handler.ServeHTTP(rec, req)
			if tt.write {
				assert.Equal(t, http.StatusForbidden, rec.Code, "non-admin write")
				assert.Empty(t, rec.Header().Get("Location"), "forbidden never redirects")
				assert.JSONEq(t, `{"error":"Admin role required"}`, rec.Body.String())
			} else {
				assert.Equal(t, tt.success, rec.Code, "non-admin read")
			}

			rec = httptest.NewRecorder()
			req = httptest.NewRequest(tt.method, tt.path, nil)
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "anonymous")
			assert.Empty(t, rec.Body.String())
		})
	}
}

func TestEngine_UIPageRedirectsAnonymous(t *testing.T) {
	rec := &countingRecorder{}
	handler, _ := newPolicyHandler(t, rec)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Accept", browserAccept)
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login?returnUrl=%2Ftodos", w.Header().Get("Location"))
	assert.Equal(t, 1, rec.challenges[ChallengeRedirect])
}

func TestEngine_UIPageStructuredAcceptGets401(t *testing.T) {
	handler, _ := newPolicyHandler(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.Header.Set("Accept", "application/json")
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEngine_Exemptions(t *testing.T) {
	handler, _ := newPolicyHandler(t, nil)

	for _, path := range []string{"/", "/me", "/health", "/static/app.css"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	// Exempting "/" must not exempt everything below it.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/todos", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestEngine_AttachesPrincipal(t *testing.T) {
	sessions, _ := newTestSessions(t, SessionOptions{})
	engine := NewEngine(sessions)

	var got *Principal
	h := engine.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	c := issueCookie(t, sessions, &Principal{Name: "alice", Roles: []string{RoleUser}}, false)
	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Name)
	assert.False(t, got.HasRole(RoleAdmin))
}

func TestEngine_ForbiddenRecorded(t *testing.T) {
	rec := &countingRecorder{}
	handler, sessions := newPolicyHandler(t, rec)
	alice := issueCookie(t, sessions, &Principal{Name: "alice", Roles: []string{RoleUser}}, false)

	req := httptest.NewRequest(http.MethodDelete, "/api/todos/1", nil)
	req.AddCookie(&http.Cookie{Name: alice.Name, Value: alice.Value})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1, rec.forbidden)
}

func TestWithAdminRole(t *testing.T) {
	sessions, _ := newTestSessions(t, SessionOptions{})
	assert.Equal(t, "Owner", NewEngine(sessions, WithAdminRole("Owner")).AdminRole())
	assert.Equal(t, RoleAdmin, NewEngine(sessions, WithAdminRole("")).AdminRole())
}
