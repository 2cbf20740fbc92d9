package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const sessionCookie = "intercom_session"

var errNoSession = errors.New("no session")

// Identity is the signed-in user behind a request.
type Identity struct {
	Email     string
	SessionID string
}

// Sessions issues and verifies HS256-signed session cookies. The session
// id in the cookie keys the per-session access gate.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewSessions creates a Sessions signing with secret.
func NewSessions(secret []byte, ttl time.Duration, secure bool) *Sessions {
	return &Sessions{secret: secret, ttl: ttl, secure: secure}
}

// Cookie mints a session cookie for email with a fresh session id.
func (s *Sessions) Cookie(email string) (*http.Cookie, Identity, error) {
	now := time.Now()
	id := Identity{Email: email, SessionID: uuid.NewString()}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id.Email,
		ID:        id.SessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("sign session: %w", err)
	}

	return &http.Cookie{
		Name:     sessionCookie,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(s.ttl),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}, id, nil
}

// Read verifies the session cookie of r.
func (s *Sessions) Read(r *http.Request) (Identity, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return Identity{}, errNoSession
	}

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if _, err := parser.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("verify session: %w", err)
	}

	if claims.Subject == "" || claims.ID == "" {
		return Identity{}, errNoSession
	}

	return Identity{Email: claims.Subject, SessionID: claims.ID}, nil
}

// Clear returns a cookie that removes the session.
func (s *Sessions) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
