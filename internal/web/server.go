// Package web serves the remote door trigger, the status page and a small
// call control API for signed-in, allow-listed users.
package web

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/sweeney/intercom/internal/gate"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/status"
)

// GoogleUserInfoURL returns the signed-in user's e-mail address.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Intercom is what the web app drives.
type Intercom interface {
	Call(ctx context.Context)
	Cancel(ctx context.Context)
	OpenDoor() error
	Status() status.Snapshot
}

// Config configures the web app.
type Config struct {
	Addr         string
	AllowedUsers []string
	// CookieSecret signs sessions; a random one is used when empty, so
	// sessions do not survive a restart.
	CookieSecret  []byte
	SecureCookies bool
	SessionTTL    time.Duration
	TokenLength   int
	MaxSessions   int
	// OAuth enables Google login; nil leaves login unavailable.
	OAuth       *oauth2.Config
	UserInfoURL string
	Logger      *zap.SugaredLogger
}

// Server serves the web app over HTTP.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	ic         Intercom
	sessions   *Sessions
	gates      *gate.Registry
	allowed    map[string]bool
	oauth      *oauth2.Config
	userInfo   string
	log        *zap.SugaredLogger
}

// New creates a Server driving ic.
func New(cfg Config, ic Intercom) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Logger().Named("web")
	}

	secret := cfg.CookieSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
		log.Warn("no cookie secret configured, sessions end on restart")
	}

	gates, err := gate.NewRegistry(cfg.MaxSessions, cfg.TokenLength, ic)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[strings.ToLower(strings.TrimSpace(u))] = true
	}

	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = GoogleUserInfoURL
	}

	s := &Server{
		ic:       ic,
		sessions: NewSessions(secret, cfg.SessionTTL, cfg.SecureCookies),
		gates:    gates,
		allowed:  allowed,
		oauth:    cfg.OAuth,
		userInfo: userInfo,
		log:      log,
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.logRequests)
	s.router.SetHTMLTemplate(templates)
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.GET("/auth/login", s.handleLogin)
	r.GET("/auth/callback", s.handleCallback)
	r.GET("/auth/logout", s.handleLogout)

	r.GET("/status", s.handleStatus)
	r.GET("/status.json", s.handleStatusJSON)

	door := r.Group("/", s.requireUser(false))
	door.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/door") })
	door.GET("/door", s.handleDoor)
	door.GET("/door/:token", s.handleDoor)

	api := r.Group("/api", s.requireUser(true))
	api.POST("/call", s.handleCall)
	api.POST("/cancel", s.handleCancel)
}

// Handler returns the HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.log.Debugw("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.HTML(http.StatusOK, "status", s.ic.Status())
}

func (s *Server) handleStatusJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.ic.Status()))
}
