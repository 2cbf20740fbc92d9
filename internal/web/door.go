package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/status"
)

const apiTimeout = 10 * time.Second

// handleDoor renders the open button for the session's current token. A
// request carrying the token opens the door and rotates it; a stale or
// wrong token just renders the button again.
func (s *Server) handleDoor(c *gin.Context) {
	id := identity(c)
	ctx := c.Request.Context()
	g := s.gates.For(id.SessionID)

	if candidate := c.Param("token"); candidate != "" {
		ok, err := g.Submit(candidate)
		switch {
		case err != nil:
			logger.ErrorKV(ctx, "remote door open failed", "error", err)
			c.HTML(http.StatusInternalServerError, "error", gin.H{"Message": "The door could not be opened."})
			return
		case ok:
			logger.InfoKV(ctx, "door opened remotely")
			c.HTML(http.StatusOK, "opened", gin.H{"User": id.Email})
			return
		default:
			logger.DebugKV(ctx, "stale door token")
		}
	}

	c.HTML(http.StatusOK, "door", gin.H{"Token": g.Token(), "User": id.Email})
}

func (s *Server) handleCall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), apiTimeout)
	defer cancel()

	logger.InfoKV(ctx, "remote call")
	s.ic.Call(ctx)

	c.JSON(http.StatusAccepted, gin.H{"call": status.NewCallJSON(s.ic.Status().Call)})
}

func (s *Server) handleCancel(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), apiTimeout)
	defer cancel()

	logger.InfoKV(ctx, "remote hangup")
	s.ic.Cancel(ctx)

	c.JSON(http.StatusAccepted, gin.H{"call": status.NewCallJSON(s.ic.Status().Call)})
}
