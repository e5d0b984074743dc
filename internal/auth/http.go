// ABOUTME: HTTP authorization policy: authenticated-by-default with named public exemptions
// ABOUTME: Resolves the session cookie into the request context and gates writes by role

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Recorder observes authorization outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Challenged(mode ChallengeMode)
	Forbidden()
	LoginAttempt(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) Challenged(ChallengeMode) {}
func (nopRecorder) Forbidden()               {}
func (nopRecorder) LoginAttempt(bool)        {}

// Exemption names a request that passes the default policy without a session.
// An empty Method matches any method. With Prefix set, Path matches whole
// path segments below it.
type Exemption struct {
	Method string
	Path   string
	Prefix bool
}

func (e Exemption) matches(r *http.Request) bool {
	if e.Method != "" && e.Method != r.Method {
		if !(e.Method == http.MethodGet && r.Method == http.MethodHead) {
			return false
		}
	}
	if e.Prefix {
		return hasPathPrefix(r.URL.Path, e.Path)
	}
	return r.URL.Path == e.Path
}

// DefaultExemptions are the public endpoints: login, logout, the identity
// probe and the landing shell.
func DefaultExemptions() []Exemption {
	return []Exemption{
		{Method: http.MethodPost, Path: "/auth/login"},
		{Method: http.MethodPost, Path: "/auth/logout"},
		{Method: http.MethodGet, Path: "/login"},
		{Method: http.MethodGet, Path: "/me"},
		{Method: http.MethodGet, Path: "/"},
	}
}

// Engine enforces the authorization policy.
type Engine struct {
	sessions   *SessionManager
	challenger *Challenger
	adminRole  string
	exemptions []Exemption
	recorder   Recorder
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAdminRole sets the role required by the elevated policy.
func WithAdminRole(role string) EngineOption {
	return func(e *Engine) {
		if role != "" {
			e.adminRole = role
		}
	}
}

// WithExemptions adds public endpoints on top of DefaultExemptions.
func WithExemptions(ex ...Exemption) EngineOption {
	return func(e *Engine) {
		e.exemptions = append(e.exemptions, ex...)
	}
}

// WithRecorder reports policy outcomes to r.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithChallenger replaces the default response-mode resolver.
func WithChallenger(c *Challenger) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.challenger = c
		}
	}
}

// NewEngine creates an Engine over sessions.
func NewEngine(sessions *SessionManager, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:   sessions,
		challenger: DefaultChallenger(),
		adminRole:  RoleAdmin,
		exemptions: DefaultExemptions(),
		recorder:   nopRecorder{},
		logger:     slog.Default().With("component", "authz"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions returns the session manager.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Challenger returns the response-mode resolver.
func (e *Engine) Challenger() *Challenger {
	return e.challenger
}

// AdminRole returns the role required for writes.
func (e *Engine) AdminRole() string {
	return e.adminRole
}

// Recorder returns the outcome recorder.
func (e *Engine) Recorder() Recorder {
	return e.recorder
}

func (e *Engine) exempt(r *http.Request) bool {
	for _, ex := range e.exemptions {
		if ex.matches(r) {
			return true
		}
	}
	return false
}

// Middleware resolves the session cookie, slides its expiry, attaches the
// Principal to the request context and applies the default policy. Exempt
// requests pass through with or without a Principal.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := e.sessions.Load(w, r); p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}

		if FromContext(r.Context()) == nil && !e.exempt(r) {
			e.challenge(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (e *Engine) challenge(w http.ResponseWriter, r *http.Request) {
	mode := e.challenger.Challenge(w, r)
	e.recorder.Challenged(mode)
	e.logger.Debug("unauthenticated request", "method", r.Method, "path", r.URL.Path, "mode", mode.String())
}

// RequireRole returns middleware implementing the elevated policy. A missing
// Principal is challenged; a Principal without role gets 403, never a
// redirect.
func (e *Engine) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := FromContext(r.Context())
			if p == nil {
				e.challenge(w, r)
				return
			}
			if !p.HasRole(role) {
				e.recorder.Forbidden()
				e.logger.Info("forbidden", "user", p.Name, "method", r.Method, "path", r.URL.Path, "required_role", role)
				writeForbidden(w, r, role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin applies RequireRole with the configured admin role.
func (e *Engine) RequireAdmin() func(http.Handler) http.Handler {
	return e.RequireRole(e.adminRole)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, role string) {
	if hasPathPrefix(r.URL.Path, "/api") || acceptsStructured(r.Header.Values("Accept")) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": role + " role required"})
		return
	}
	http.Error(w, "Forbidden: "+role+" role required", http.StatusForbidden)
}
