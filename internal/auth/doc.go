// Package auth provides authentication and authorization for tasktrack.
//
// # Credentials
//
// A Directory maps usernames to a password and a flat set of role names.
// MemoryDirectory is built once at startup from configuration (or from
// DefaultCredentials) and is read-only afterwards. Usernames compare
// case-insensitively; passwords compare exactly, or through bcrypt when a
// PasswordHash is configured.
//
// # Sessions
//
// SessionManager wraps a Principal in an HS256 JWT stored in an HttpOnly
// cookie. There is no server-side session table:
//
//	p, err := sessions.Authenticate("admin", "admin123")
//	err = sessions.Issue(w, r, p, rememberMe)
//	p = sessions.Load(w, r) // verifies and slides expiry
//	sessions.Revoke(w, r)
//
// Browser-session cookies carry no Expires attribute. Persistent cookies do.
// Both slide forward on use, capped at MaxLifetime after the original login.
//
// # Policy
//
// Engine.Middleware requires a session for every request except the
// exemptions (login, logout, /me, the landing page and any extras added by
// the server). Engine.RequireAdmin additionally requires the admin role and
// answers 403 when it is missing.
//
// # Challenges
//
// When no session is present, Challenger answers 401 with an empty body for
// /api and /live paths or when the client prefers JSON or XML over HTML, and
// otherwise redirects to /login?returnUrl=<original path>.
package auth
