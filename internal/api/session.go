// ABOUTME: Login, logout and identity probe endpoints
// ABOUTME: Serves both form posts from the UI (303 redirects) and JSON API callers

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/tasktrack/internal/auth"
)

// DefaultReturnURL is where a form login lands without an explicit target.
const DefaultReturnURL = "/todos"

// SafeReturnURL returns target if it is a local path, otherwise
// DefaultReturnURL. Absolute and scheme-relative URLs are rejected so the
// login form cannot be used as an open redirect.
func SafeReturnURL(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return DefaultReturnURL
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultReturnURL
	}
	return target
}

// parseLogin reads credentials from a JSON or form body.
func parseLogin(w http.ResponseWriter, r *http.Request) (*LoginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if isFormPost(r) {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		remember, _ := strconv.ParseBool(r.PostFormValue("rememberMe"))
		if r.PostFormValue("rememberMe") == "on" {
			remember = true
		}
		returnURL := r.PostFormValue(auth.ReturnURLParam)
		if returnURL == "" {
			returnURL = r.URL.Query().Get(auth.ReturnURLParam)
		}
		return &LoginRequest{
			Username:   r.PostFormValue("username"),
			Password:   r.PostFormValue("password"),
			RememberMe: remember,
			ReturnURL:  returnURL,
		}, nil
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.ReturnURL == "" {
		req.ReturnURL = r.URL.Query().Get(auth.ReturnURLParam)
	}
	return &req, nil
}

// browserLogin reports whether the login came from an HTML form and the
// caller does not ask for a structured response.
func browserLogin(r *http.Request) bool {
	return isFormPost(r) && !auth.PrefersStructured(r)
}

// handleLogin handles POST /auth/login.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := parseLogin(w, r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid login body")
		return
	}

	sessions := h.engine.Sessions()
	p, err := sessions.Authenticate(req.Username, req.Password)
	if err != nil {
		h.engine.Recorder().LoginAttempt(false)
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Error("login failed", "error", err)
		}
		h.logger.Info("login rejected", "username", req.Username)
		if browserLogin(r) && h.loginFailure != nil {
			h.loginFailure(w, r, http.StatusUnauthorized, req.Username, req.ReturnURL)
			return
		}
		sendJSONError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := sessions.Issue(w, r, p, req.RememberMe); err != nil {
		h.logger.Error("failed to issue session", "user", p.Name, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.engine.Recorder().LoginAttempt(true)
	h.logger.Info("user logged in", "user", p.Name, "persistent", req.RememberMe)

	if browserLogin(r) {
		http.Redirect(w, r, SafeReturnURL(req.ReturnURL), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Username: p.Name, Roles: rolesOrEmpty(p.Roles)})
}

// handleLogout handles POST /auth/logout. It always succeeds.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.engine.Sessions().Revoke(w, r)
	if p := auth.FromContext(r.Context()); p != nil {
		h.logger.Info("user logged out", "user", p.Name)
	}

	if browserLogin(r) {
		http.Redirect(w, r, h.engine.Challenger().LoginPath, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /me.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	if p == nil {
		sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, Identity{Name: p.Name, Roles: rolesOrEmpty(p.Roles)})
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
