// ABOUTME: Server-rendered task pages that reach the task API through the per-request bridge
// ABOUTME: Handles the login page, list and detail views and CSRF-protected form actions

package webui

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/tasktrack/internal/api"
	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/bridge"
	"github.com/2389/tasktrack/internal/store"
)

const (
	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "tasktrack_csrf"

	// CSRFFieldName is the form field carrying the CSRF token
	CSRFFieldName = "csrf_token"
)

// UI serves the HTML pages.
type UI struct {
	challenger *auth.Challenger
	adminRole  string
	bridgeOpts []bridge.Option
	md         goldmark.Markdown
	pages      map[string]*template.Template
	logger     *slog.Logger
}

// Option configures a UI.
type Option func(*UI)

// WithBridgeOptions passes options to every per-request bridge client.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(u *UI) {
		u.bridgeOpts = append(u.bridgeOpts, opts...)
	}
}

// New creates the UI. The engine supplies the login path and the role that
// unlocks the edit controls.
func New(engine *auth.Engine, opts ...Option) (*UI, error) {
	u := &UI{
		challenger: engine.Challenger(),
		adminRole:  engine.AdminRole(),
		md:         newMarkdown(),
		logger:     slog.Default().With("component", "webui"),
	}
	for _, opt := range opts {
		opt(u)
	}
	pages, err := u.parseTemplates()
	if err != nil {
		return nil, err
	}
	u.pages = pages
	return u, nil
}

// RegisterRoutes registers all UI routes on the given mux
func (u *UI) RegisterRoutes(mux *http.ServeMux) {
	// Public
	mux.HandleFunc("GET /{$}", u.handleLanding)
	mux.HandleFunc("GET /login", u.handleLoginPage)

	// Authenticated by the policy middleware
	mux.HandleFunc("GET /todos", u.handleTodos)
	mux.HandleFunc("POST /todos", u.handleCreate)
	mux.HandleFunc("GET /todos/{id}", u.handleTodo)
	mux.HandleFunc("POST /todos/{id}", u.handleUpdate)
	mux.HandleFunc("POST /todos/{id}/complete", u.handleComplete)
	mux.HandleFunc("POST /todos/{id}/delete", u.handleDelete)
}

// LoginFailure re-renders the login form after rejected credentials. It
// matches api.LoginFailureFunc.
func (u *UI) LoginFailure(w http.ResponseWriter, r *http.Request, status int, username, returnURL string) {
	u.render(w, status, "login", loginData{
		page:      u.page(w, r, "Sign in"),
		Username:  username,
		ReturnURL: returnURL,
	}.withError("Invalid username or password"))
}

func (d loginData) withError(msg string) loginData {
	d.Error = msg
	return d
}

// page fills the data shared by every template and makes sure the CSRF
// cookie exists.
func (u *UI) page(w http.ResponseWriter, r *http.Request, title string) page {
	return page{
		Title:     title,
		User:      auth.FromContext(r.Context()),
		CSRFToken: u.ensureCSRFToken(w, r),
	}
}

func (u *UI) canEdit(r *http.Request) bool {
	return auth.FromContext(r.Context()).HasRole(u.adminRole)
}

func (u *UI) client(r *http.Request) (*bridge.Client, error) {
	return bridge.New(r, u.bridgeOpts...)
}

// ensureCSRFToken returns the request's CSRF token, issuing a new cookie
// when there is none.
func (u *UI) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		u.logger.Error("failed to generate CSRF token", "error", err)
		return "" // will fail validation, but won't crash
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// validateCSRF checks the CSRF token from the form, or the X-CSRF-Token
// header, against the cookie.
func validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	token := r.PostFormValue(CSRFFieldName)
	if token == "" {
		token = r.Header.Get("X-CSRF-Token")
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) == 1
}

func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// requireCSRF parses the form and rejects the request when the token is
// missing or wrong.
func (u *UI) requireCSRF(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		u.renderError(w, r, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return false
	}
	if !validateCSRF(r) {
		u.logger.Warn("rejected form post with invalid CSRF token", "path", r.URL.Path)
		u.renderError(w, r, http.StatusForbidden, "Request expired", "Reload the page and try again.")
		return false
	}
	return true
}

func (u *UI) renderError(w http.ResponseWriter, r *http.Request, status int, heading, message string) {
	u.render(w, status, "error", errorData{
		page:    u.page(w, r, heading),
		Heading: heading,
		Message: message,
	})
}

// returnTarget is where the user should land after logging in again.
func returnTarget(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return r.URL.RequestURI()
	}
	return api.DefaultReturnURL
}

// bridgeError maps a failed API call to a page.
func (u *UI) bridgeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *bridge.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized:
			http.Redirect(w, r, u.challenger.LoginURL(returnTarget(r)), http.StatusSeeOther)
			return
		case http.StatusForbidden:
			msg := "You are not allowed to change tasks."
			if se.Message != "" {
				msg = "Forbidden: " + se.Message + "."
			}
			u.renderError(w, r, http.StatusForbidden, "Forbidden", msg)
			return
		case http.StatusNotFound:
			u.renderError(w, r, http.StatusNotFound, "Not found", "That task does not exist.")
			return
		}
	}
	u.logger.Error("task api call failed", "method", r.Method, "path", r.URL.Path, "error", err)
	u.renderError(w, r, http.StatusInternalServerError, "Something went wrong", "The task service could not complete the request.")
}

// validationMessage returns the user-facing text of a 400 from the API.
func validationMessage(err error) (string, bool) {
	var se *bridge.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
		if se.Reason != "" {
			return se.Reason, true
		}
		return se.Message, true
	}
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// parseTaskForm reads a task form. The returned taskForm echoes the raw
// values back on error.
func parseTaskForm(r *http.Request) (taskForm, api.TaskRequest, error) {
	form := taskForm{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		DueDate:     strings.TrimSpace(r.PostFormValue("dueDate")),
		Priority:    strings.TrimSpace(r.PostFormValue("priority")),
		IsCompleted: isChecked(r.PostFormValue("isCompleted")),
	}
	req := api.TaskRequest{
		Title:       form.Title,
		IsCompleted: form.IsCompleted,
	}
	if form.Description != "" {
		desc := form.Description
		req.Description = &desc
	}
	if form.DueDate != "" {
		due, err := time.Parse(dateLayout, form.DueDate)
		if err != nil {
			return form, req, &store.ValidationError{Field: "dueDate", Reason: "due date must be YYYY-MM-DD"}
		}
		req.DueDate = &due
	}
	if form.Priority != "" {
		p, err := store.ParsePriority(form.Priority)
		if err != nil {
			return form, req, &store.ValidationError{Field: "priority", Reason: "unknown priority"}
		}
		req.Priority = &p
	}
	return form, req, nil
}

func isChecked(v string) bool {
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func (u *UI) handleLanding(w http.ResponseWriter, r *http.Request) {
	u.render(w, http.StatusOK, "landing", u.page(w, r, "Welcome"))
}

func (u *UI) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.Query().Get(auth.ReturnURLParam)
	if auth.FromContext(r.Context()) != nil {
		http.Redirect(w, r, api.SafeReturnURL(returnURL), http.StatusSeeOther)
		return
	}
	u.render(w, http.StatusOK, "login", loginData{
		page:      u.page(w, r, "Sign in"),
		ReturnURL: returnURL,
	})
}

func (u *UI) handleTodos(w http.ResponseWriter, r *http.Request) {
	u.showTodos(w, r, http.StatusOK, taskForm{}, "")
}

func (u *UI) showTodos(w http.ResponseWriter, r *http.Request, status int, form taskForm, errMsg string) {
	client, err := u.client(r)
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	tasks, err := client.ListTasks(r.Context())
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	data := todosData{
		page:    u.page(w, r, "Tasks"),
		Tasks:   tasks,
		CanEdit: u.canEdit(r),
		Form:    form,
	}
	data.Error = errMsg
	data.Live = true
	u.render(w, status, "todos", data)
}

func (u *UI) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !u.requireCSRF(w, r) {
		return
	}
	form, req, err := parseTaskForm(r)
	if err != nil {
		msg, _ := validationMessage(err)
		u.showTodos(w, r, http.StatusBadRequest, form, msg)
		return
	}

	client, err := u.client(r)
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	if _, err := client.CreateTask(r.Context(), req); err != nil {
		if msg, ok := validationMessage(err); ok {
			u.showTodos(w, r, http.StatusBadRequest, form, msg)
			return
		}
		u.bridgeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

func (u *UI) handleTodo(w http.ResponseWriter, r *http.Request) {
	u.showTodo(w, r, http.StatusOK, nil, "")
}

// showTodo renders the detail page. A nil form is filled from the task.
func (u *UI) showTodo(w http.ResponseWriter, r *http.Request, status int, form *taskForm, errMsg string) {
	client, err := u.client(r)
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	task, err := client.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	if form == nil {
		f := formFromTask(task)
		form = &f
	}
	data := todoData{
		page:    u.page(w, r, task.Title),
		Task:    task,
		CanEdit: u.canEdit(r),
		Form:    *form,
	}
	data.Error = errMsg
	data.Live = true
	u.render(w, status, "todo", data)
}

func (u *UI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !u.requireCSRF(w, r) {
		return
	}
	id := r.PathValue("id")
	form, req, err := parseTaskForm(r)
	if err != nil {
		msg, _ := validationMessage(err)
		u.showTodo(w, r, http.StatusBadRequest, &form, msg)
		return
	}

	client, err := u.client(r)
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	if err := client.UpdateTask(r.Context(), id, req); err != nil {
		if msg, ok := validationMessage(err); ok {
			u.showTodo(w, r, http.StatusBadRequest, &form, msg)
			return
		}
		u.bridgeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos/"+id, http.StatusSeeOther)
}

func (u *UI) handleComplete(w http.ResponseWriter, r *http.Request) {
	if !u.requireCSRF(w, r) {
		return
	}
	client, err := u.client(r)
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	if _, err := client.CompleteTask(r.Context(), r.PathValue("id")); err != nil {
		u.bridgeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

func (u *UI) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !u.requireCSRF(w, r) {
		return
	}
	client, err := u.client(r)
	if err != nil {
		u.bridgeError(w, r, err)
		return
	}
	if err := client.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		u.bridgeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}
