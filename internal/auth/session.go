// ABOUTME: Session authenticator issuing, resolving, sliding and revoking session cookies
// ABOUTME: Validates credentials against a Directory and wraps the Principal in a signed token

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session defaults.
const (
	DefaultCookieName    = "tasktrack_session"
	DefaultSessionTTL    = 30 * time.Minute
	DefaultPersistentTTL = 14 * 24 * time.Hour
	DefaultMaxLifetime   = 30 * 24 * time.Hour
)

// SessionOptions tunes cookie naming and lifetimes. Zero values use the
// defaults above.
type SessionOptions struct {
	CookieName string
	// SessionTTL is the sliding window for browser-session cookies.
	SessionTTL time.Duration
	// PersistentTTL is the sliding window for "remember me" cookies.
	PersistentTTL time.Duration
	// MaxLifetime caps how far sliding can push expiry past the login time.
	MaxLifetime time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.PersistentTTL <= 0 {
		o.PersistentTTL = DefaultPersistentTTL
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = DefaultMaxLifetime
	}
	return o
}

// SessionManager authenticates users and manages the session cookie.
type SessionManager struct {
	dir    Directory
	codec  *tokenCodec
	opts   SessionOptions
	logger *slog.Logger
}

// NewSessionManager creates a SessionManager. The secret must be at least
// MinSecretLength bytes.
func NewSessionManager(dir Directory, secret []byte, opts SessionOptions) (*SessionManager, error) {
	if dir == nil {
		return nil, errors.New("credential directory is required")
	}
	codec, err := newTokenCodec(secret)
	if err != nil {
		return nil, err
	}
	return &SessionManager{
		dir:    dir,
		codec:  codec,
		opts:   opts.withDefaults(),
		logger: slog.Default().With("component", "session"),
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *SessionManager) CookieName() string {
	return m.opts.CookieName
}

// Authenticate checks username and password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (m *SessionManager) Authenticate(username, password string) (*Principal, error) {
	cred, ok := m.dir.Lookup(username)
	if !ok || !cred.Matches(password) {
		return nil, ErrInvalidCredentials
	}
	return &Principal{Name: cred.Username, Roles: cred.Roles}, nil
}

func (m *SessionManager) window(persistent bool) time.Duration {
	if persistent {
		return m.opts.PersistentTTL
	}
	return m.opts.SessionTTL
}

// expiry returns the next expiry for a session that logged in at authTime,
// never past the absolute lifetime cap.
func (m *SessionManager) expiry(authTime, now time.Time, persistent bool) time.Time {
	exp := now.Add(m.window(persistent))
	if limit := authTime.Add(m.opts.MaxLifetime); exp.After(limit) {
		exp = limit
	}
	return exp
}

// Issue signs a fresh session for p and sets the cookie. A non-persistent
// session cookie has no Expires attribute so the browser drops it on close.
func (m *SessionManager) Issue(w http.ResponseWriter, r *http.Request, p *Principal, persistent bool) error {
	now := m.codec.now()
	return m.write(w, r, p, persistent, now, now)
}

func (m *SessionManager) write(w http.ResponseWriter, r *http.Request, p *Principal, persistent bool, authTime, now time.Time) error {
	exp := m.expiry(authTime, now, persistent)
	claims := &sessionClaims{
		Roles:      p.Roles,
		Persistent: persistent,
		AuthTime:   authTime.Unix(),
	}
	claims.Subject = p.Name
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)

	token, err := m.codec.sign(claims)
	if err != nil {
		return err
	}

	cookie := m.baseCookie(r)
	cookie.Value = token
	if persistent {
		cookie.Expires = exp
	}
	http.SetCookie(w, cookie)
	return nil
}

func (m *SessionManager) baseCookie(r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     m.opts.CookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

// ResolveToken verifies token and returns its Principal, or nil when the
// token is missing, malformed, tampered with or expired.
func (m *SessionManager) ResolveToken(token string) *Principal {
	claims := m.claims(token)
	if claims == nil {
		return nil
	}
	return claims.principal()
}

func (m *SessionManager) claims(token string) *sessionClaims {
	if token == "" {
		return nil
	}
	claims, err := m.codec.parse(token)
	if err != nil {
		m.logger.Debug("rejected session token", "error", err)
		return nil
	}
	return claims
}

// Resolve returns the Principal of the request's session cookie, or nil.
func (m *SessionManager) Resolve(r *http.Request) *Principal {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil {
		return nil
	}
	return m.ResolveToken(c.Value)
}

// Load resolves the session like Resolve and slides its expiry forward. The
// cookie is only rewritten once more than half of the window has elapsed.
func (m *SessionManager) Load(w http.ResponseWriter, r *http.Request) *Principal {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil {
		return nil
	}
	claims := m.claims(c.Value)
	if claims == nil {
		return nil
	}
	p := claims.principal()

	now := m.codec.now()
	remaining := claims.ExpiresAt.Sub(now)
	if remaining > m.window(claims.Persistent)/2 {
		return p
	}
	authTime := claims.authTime()
	if !m.expiry(authTime, now, claims.Persistent).After(claims.ExpiresAt.Time) {
		// Already at the absolute cap.
		return p
	}
	if err := m.write(w, r, p, claims.Persistent, authTime, now); err != nil {
		m.logger.Warn("failed to refresh session", "user", p.Name, "error", err)
	}
	return p
}

// Revoke tells the client to discard the session cookie. It is safe to call
// without a session.
func (m *SessionManager) Revoke(w http.ResponseWriter, r *http.Request) {
	cookie := m.baseCookie(r)
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}
