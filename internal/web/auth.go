package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sweeney/intercom/internal/logger"
)

const (
	stateCookie = "intercom_oauth_state"
	identityKey = "identity"
	stateTTL    = 10 * time.Minute
)

var errUnverified = errors.New("e-mail address not verified")

type userInfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// handleLogin redirects to the identity provider. The state cookie carries
// the CSRF state and the page to return to.
func (s *Server) handleLogin(c *gin.Context) {
	if s.oauth == nil {
		c.String(http.StatusServiceUnavailable, "login is not configured")
		return
	}

	state := uuid.NewString()
	next := safeNext(c.Query("next"))

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookie,
		Value:    state + "|" + next,
		Path:     "/auth",
		Expires:  time.Now().Add(stateTTL),
		HttpOnly: true,
		Secure:   s.sessions.secure,
		SameSite: http.SameSiteLaxMode,
	})

	c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline))
}

func (s *Server) handleCallback(c *gin.Context) {
	if s.oauth == nil {
		c.String(http.StatusServiceUnavailable, "login is not configured")
		return
	}

	sc, err := c.Request.Cookie(stateCookie)
	if err != nil {
		c.String(http.StatusBadRequest, "missing login state")
		return
	}
	state, next, _ := strings.Cut(sc.Value, "|")
	if state == "" || c.Query("state") != state {
		c.String(http.StatusBadRequest, "login state mismatch")
		return
	}

	email, err := s.exchange(c, c.Query("code"))
	if err != nil {
		s.log.Warnw("login failed", "error", err)
		s.forbid(c, false, "")
		return
	}

	cookie, id, err := s.sessions.Cookie(email)
	if err != nil {
		s.log.Errorw("session not issued", "error", err)
		c.String(http.StatusInternalServerError, "session error")
		return
	}

	http.SetCookie(c.Writer, cookie)
	http.SetCookie(c.Writer, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})
	s.log.Infow("user signed in", "user", id.Email, "allowed", s.isAllowed(id.Email))

	c.Redirect(http.StatusFound, safeNext(next))
}

// exchange trades code for a token and returns the verified e-mail address.
func (s *Server) exchange(c *gin.Context, code string) (string, error) {
	ctx := c.Request.Context()

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}

	resp, err := s.oauth.Client(ctx, tok).Get(s.userInfo)
	if err != nil {
		return "", fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch user info: status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode user info: %w", err)
	}
	if info.Email == "" || !info.EmailVerified {
		return "", errUnverified
	}

	return strings.ToLower(info.Email), nil
}

func (s *Server) handleLogout(c *gin.Context) {
	if id, err := s.sessions.Read(c.Request); err == nil {
		s.gates.Forget(id.SessionID)
		s.log.Infow("user signed out", "user", id.Email)
	}

	http.SetCookie(c.Writer, s.sessions.Clear())
	c.Redirect(http.StatusFound, safeNext(c.Query("next")))
}

// requireUser lets through signed-in, allow-listed users and answers 403
// otherwise, as JSON on the API.
func (s *Server) requireUser(api bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.sessions.Read(c.Request)
		if err != nil {
			s.forbid(c, api, "")
			return
		}

		if !s.isAllowed(id.Email) {
			s.log.Warnw("user not allowed", "user", id.Email, "path", c.Request.URL.Path)
			s.forbid(c, api, id.Email)
			return
		}

		c.Set(identityKey, id)

		ctx := logger.ToContext(c.Request.Context(), s.log)
		ctx = logger.WithKV(ctx, "user", id.Email, "session_id", id.SessionID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) forbid(c *gin.Context, api bool, user string) {
	if api {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	c.HTML(http.StatusForbidden, "forbidden", gin.H{
		"User":  user,
		"Login": "/auth/login?next=" + c.Request.URL.Path,
	})
	c.Abort()
}

func (s *Server) isAllowed(email string) bool {
	return s.allowed[strings.ToLower(email)]
}

func identity(c *gin.Context) Identity {
	id, _ := c.MustGet(identityKey).(Identity)
	return id
}

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/door"
	}
	return next
}
