package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CloseRequest selects the sessions removed by POST /sessions/close.
// Exactly one selector must be set.
type CloseRequest struct {
	Owner   string `json:"owner,omitempty"`
	Address string `json:"address,omitempty"`
	Type    string `json:"type,omitempty"`
	All     bool   `json:"all,omitempty"`
}

type TransactionStatus struct {
	Pending  bool       `json:"pending"`
	ID       string     `json:"id,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.sessions.Slug(),
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":    true,
			"uptime":   time.Since(s.Appeared).String(),
			"service":  s.sessions.Slug(),
			"sessions": s.sessions.Len(),
			"version":  version,
		})
	})

	api := r.Group("/", s.authorize())
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/close", s.closeSessions)
	api.GET("/transaction", s.getTransaction)
	api.POST("/transaction/reset", s.resetTransaction)
}

func (s *Server) listSessions(c *gin.Context) {
	all, err := s.sessions.GetAllSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if all == nil {
		all = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": all})
}

func (s *Server) getSession(c *gin.Context) {
	id, err := session.ParseID(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := s.sessions.GetSessionInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) deleteSession(c *gin.Context) {
	id, err := session.ParseID(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	cleanup, err := queryBool(c, "cleanup", true)
	if err != nil {
		writeError(c, err)
		return
	}
	local, err := queryBool(c, "local", false)
	if err != nil {
		writeError(c, err)
		return
	}
	removed, err := s.sessions.Remove(c.Request.Context(), id, registry.RemoveOptions{SkipCleanup: !cleanup, LocalOnly: local})
	if err != nil {
		writeError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "session " + id.Hex() + " not found"})
		return
	}
	logs.Infof("server.Server.deleteSession id=%s cleanup=%t local=%t", id, cleanup, local)
	c.JSON(http.StatusOK, gin.H{"removed": true, "id": id})
}

func (s *Server) closeSessions(c *gin.Context) {
	var req CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	selectors := 0
	for _, set := range []bool{req.Owner != "", req.Address != "", req.Type != "", req.All} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of owner, address, type or all is required"})
		return
	}

	ctx := c.Request.Context()
	var (
		n   int
		err error
	)
	switch {
	case req.Owner != "":
		n, err = s.sessions.RemoveAllByOwner(ctx, req.Owner)
	case req.Address != "":
		n, err = s.sessions.RemoveAllByRemoteAddress(ctx, req.Address)
	case req.Type != "":
		var typ session.Type
		if typ, err = session.ParseType(req.Type); err == nil {
			n, err = s.sessions.RemoveAllByType(ctx, typ)
		}
	default:
		n, err = s.sessions.RemoveAll(ctx)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) getTransaction(c *gin.Context) {
	c.JSON(http.StatusOK, s.transactionStatus())
}

func (s *Server) resetTransaction(c *gin.Context) {
	before := s.transactionStatus()
	s.sessions.ResetTransaction()
	if before.Pending {
		logs.Infof("server.Server.resetTransaction id=%s", before.ID)
	}
	c.JSON(http.StatusOK, s.transactionStatus())
}

func (s *Server) transactionStatus() TransactionStatus {
	id, deadline, ok := s.sessions.PendingTransaction()
	if !ok {
		return TransactionStatus{}
	}
	return TransactionStatus{Pending: true, ID: id.Hex(), Deadline: &deadline}
}

func queryBool(c *gin.Context, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Join(session.ErrInvalidArgument, err)
	}
	return v, nil
}

// statusFor maps the session error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, session.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTransactionLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logs.Errorf("server.Server %s %s err=%v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
