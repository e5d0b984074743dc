// ABOUTME: HTTP handler wiring for the JSON task API and session endpoints
// ABOUTME: Registers routes on a ServeMux with writes gated by the admin role

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/live"
	"github.com/2389/tasktrack/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Publisher receives task change events.
type Publisher interface {
	Publish(ev live.Event)
}

// LoginFailureFunc renders a failed browser login. status is always 401.
type LoginFailureFunc func(w http.ResponseWriter, r *http.Request, status int, username, returnURL string)

// Handler serves the JSON API.
type Handler struct {
	store        store.TaskStore
	engine       *auth.Engine
	events       Publisher
	loginFailure LoginFailureFunc
	logger       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithPublisher sends task changes to p.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) {
		if p != nil {
			h.events = p
		}
	}
}

// WithLoginFailure renders failed form logins with fn instead of a JSON body.
func WithLoginFailure(fn LoginFailureFunc) Option {
	return func(h *Handler) {
		h.loginFailure = fn
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(live.Event) {}

// New creates a Handler.
func New(st store.TaskStore, engine *auth.Engine, opts ...Option) *Handler {
	h := &Handler{
		store:  st,
		engine: engine,
		events: nopPublisher{},
		logger: slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux. Reads need only a session, which the
// engine middleware wrapping mux enforces. Writes also need the admin role.
func (h *Handler) Register(mux *http.ServeMux) {
	admin := h.engine.RequireAdmin()

	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /me", h.handleMe)

	mux.HandleFunc("GET /api/todos", h.handleListTasks)
	mux.HandleFunc("GET /api/todos/{id}", h.handleGetTask)
	mux.Handle("POST /api/todos", admin(http.HandlerFunc(h.handleCreateTask)))
	mux.Handle("PUT /api/todos/{id}", admin(http.HandlerFunc(h.handleUpdateTask)))
	mux.Handle("POST /api/todos/{id}/complete", admin(http.HandlerFunc(h.handleCompleteTask)))
	mux.Handle("DELETE /api/todos/{id}", admin(http.HandlerFunc(h.handleDeleteTask)))
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// sendStoreError maps store errors onto responses. Persistence details are
// logged, never returned.
func (h *Handler) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Field: verr.Field, Reason: verr.Reason})
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "task not found")
	default:
		h.logger.Error("store operation failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// isFormPost reports whether r carries an HTML form body.
func isFormPost(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

func actor(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return p.Name
	}
	return ""
}
