// ABOUTME: Signed session tokens carrying the principal, issue time and expiry
// ABOUTME: Uses HS256 JWTs so no server-side session table is needed

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum signing secret length in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
)

// sessionClaims is the payload of a session token. AuthTime is the original
// login instant and anchors the absolute lifetime cap across refreshes.
type sessionClaims struct {
	Roles      []string `json:"roles"`
	Persistent bool     `json:"persistent,omitempty"`
	AuthTime   int64    `json:"auth_time"`
	jwt.RegisteredClaims
}

func (c *sessionClaims) principal() *Principal {
	return &Principal{Name: c.Subject, Roles: append([]string(nil), c.Roles...)}
}

func (c *sessionClaims) authTime() time.Time {
	return time.Unix(c.AuthTime, 0)
}

// tokenCodec signs and verifies session tokens.
type tokenCodec struct {
	secret []byte
	now    func() time.Time
}

func newTokenCodec(secret []byte) (*tokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &tokenCodec{secret: secret, now: time.Now}, nil
}

// sign encodes claims as a compact HS256 JWT.
func (c *tokenCodec) sign(claims *sessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return s, nil
}

// parse verifies the signature and expiry of tokenString.
func (c *tokenCodec) parse(tokenString string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.AuthTime == 0 {
		return nil, fmt.Errorf("%w: auth_time", ErrMissingClaim)
	}
	return claims, nil
}
