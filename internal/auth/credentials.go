// ABOUTME: Read-only credential directory mapping usernames to passwords and roles
// ABOUTME: Lookups are case-insensitive; passwords compare exactly or via bcrypt hash

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Well-known role names.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// ErrInvalidCredentials is returned for both unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credential is a single user record. Exactly one of Password or
// PasswordHash is used: a non-empty PasswordHash takes precedence.
type Credential struct {
	Username     string
	Password     string // plaintext, compared exactly
	PasswordHash string // bcrypt hash
	Roles        []string
}

// Matches reports whether password is correct for this credential.
func (c Credential) Matches(password string) bool {
	if c.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1
}

// HashPassword returns a bcrypt hash of password for use as PasswordHash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// Directory looks up credentials by username.
type Directory interface {
	Lookup(username string) (Credential, bool)
}

// MemoryDirectory is an immutable Directory built once at startup. It needs
// no locking because nothing writes to it after construction.
type MemoryDirectory struct {
	users map[string]Credential
}

// NewMemoryDirectory builds a directory from creds. Usernames that differ only
// by case are rejected as duplicates.
func NewMemoryDirectory(creds ...Credential) (*MemoryDirectory, error) {
	users := make(map[string]Credential, len(creds))
	for _, c := range creds {
		key := strings.ToLower(strings.TrimSpace(c.Username))
		if key == "" {
			return nil, errors.New("credential with empty username")
		}
		if c.Password == "" && c.PasswordHash == "" {
			return nil, fmt.Errorf("user %q has no password", c.Username)
		}
		if _, dup := users[key]; dup {
			return nil, fmt.Errorf("duplicate user %q", c.Username)
		}
		c.Roles = append([]string(nil), c.Roles...)
		users[key] = c
	}
	return &MemoryDirectory{users: users}, nil
}

// Lookup returns the credential for username, ignoring case.
func (d *MemoryDirectory) Lookup(username string) (Credential, bool) {
	c, ok := d.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return Credential{}, false
	}
	c.Roles = append([]string(nil), c.Roles...)
	return c, true
}

// Len returns the number of users.
func (d *MemoryDirectory) Len() int {
	return len(d.users)
}

// DefaultCredentials returns the built-in demo accounts used when the
// configuration defines no users.
func DefaultCredentials() []Credential {
	return []Credential{
		{Username: "admin", Password: "admin123", Roles: []string{RoleAdmin}},
		{Username: "alice", Password: "alice123", Roles: []string{RoleUser}},
	}
}
