// ABOUTME: Decides how an unauthenticated request is refused: bare 401 or login redirect
// ABOUTME: Machine paths and structured Accept types get 401, browser navigation gets 303

package auth

import (
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ChallengeMode is the response chosen for an unauthenticated request.
type ChallengeMode int

const (
	// ChallengeRedirect sends the browser to the login page.
	ChallengeRedirect ChallengeMode = iota
	// ChallengeUnauthorized answers 401 with an empty body.
	ChallengeUnauthorized
)

func (m ChallengeMode) String() string {
	if m == ChallengeUnauthorized {
		return "unauthorized"
	}
	return "redirect"
}

// ReturnURLParam is the login query parameter carrying the original target.
const ReturnURLParam = "returnUrl"

// Challenger implements the response-mode decision.
type Challenger struct {
	// LoginPath is the redirect target for browser navigation.
	LoginPath string
	// MachinePrefixes are path prefixes that never redirect.
	MachinePrefixes []string
}

// DefaultChallenger redirects to /login and treats /api and /live as
// machine prefixes.
func DefaultChallenger() *Challenger {
	return &Challenger{
		LoginPath:       "/login",
		MachinePrefixes: []string{"/api", "/live"},
	}
}

// Mode picks the challenge for r. Rules are evaluated in order: a machine
// path prefix, then a structured Accept preference, then redirect.
func (c *Challenger) Mode(r *http.Request) ChallengeMode {
	for _, prefix := range c.MachinePrefixes {
		if hasPathPrefix(r.URL.Path, prefix) {
			return ChallengeUnauthorized
		}
	}
	if acceptsStructured(r.Header.Values("Accept")) {
		return ChallengeUnauthorized
	}
	return ChallengeRedirect
}

// Challenge writes the chosen response and returns the mode used.
func (c *Challenger) Challenge(w http.ResponseWriter, r *http.Request) ChallengeMode {
	mode := c.Mode(r)
	if mode == ChallengeUnauthorized {
		w.WriteHeader(http.StatusUnauthorized)
		return mode
	}
	http.Redirect(w, r, c.LoginURL(r.URL.RequestURI()), http.StatusSeeOther)
	return mode
}

// LoginURL returns the login path with returnTo attached.
func (c *Challenger) LoginURL(returnTo string) string {
	if returnTo == "" {
		return c.LoginPath
	}
	return c.LoginPath + "?" + url.Values{ReturnURLParam: {returnTo}}.Encode()
}

// PrefersStructured reports whether r's Accept header ranks a JSON or XML
// type above HTML.
func PrefersStructured(r *http.Request) bool {
	return acceptsStructured(r.Header.Values("Accept"))
}

// hasPathPrefix matches prefix as a whole path segment, so /api matches
// /api and /api/todos but not /apiary.
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// acceptsStructured reports whether the client prefers a structured data
// format over HTML. Browsers list application/xml below text/html, so a
// structured type only wins when it ranks strictly above every HTML type.
// Wildcards never count.
func acceptsStructured(values []string) bool {
	var structuredQ, htmlQ float64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			mediaType, params, err := mime.ParseMediaType(part)
			if err != nil {
				continue
			}
			q := 1.0
			if raw, ok := params["q"]; ok {
				if f, err := strconv.ParseFloat(raw, 64); err == nil {
					q = f
				}
			}
			switch {
			case isHTMLType(mediaType):
				htmlQ = max(htmlQ, q)
			case isStructuredType(mediaType):
				structuredQ = max(structuredQ, q)
			}
		}
	}
	return structuredQ > 0 && structuredQ > htmlQ
}

func isHTMLType(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isStructuredType(mediaType string) bool {
	switch mediaType {
	case "application/json", "text/json", "application/xml", "text/xml", "application/problem+json":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}
