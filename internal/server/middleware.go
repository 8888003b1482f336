package server

import (
	"card-key-shop/internal/domain"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sessionCookie = "ldc_session"
	pendingCookie = "ldc_pending_order"
	csrfHeader    = "X-CSRF-Token"
	csrfField     = "csrf_token"

	ctxSession = "session"
)

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// loadSession resolves the session cookie. Requests without a live session continue as guests.
func (s *Server) loadSession(c *gin.Context) {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		c.Next()
		return
	}
	session, err := s.deps.Auth.Authenticate(c.Request.Context(), id)
	if err != nil {
		s.logger.Warn("session lookup failed", "error", err)
	}
	if session != nil {
		c.Set(ctxSession, session)
	}
	c.Next()
}

func currentSession(c *gin.Context) *domain.Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	session, _ := v.(*domain.Session)
	return session
}

func requireLogin(c *gin.Context) {
	if currentSession(c) == nil {
		abortWithError(c, domain.ErrUnauthenticated)
		return
	}
	c.Next()
}

func (s *Server) requireAdmin(c *gin.Context) {
	session := currentSession(c)
	if session == nil || !s.cfg.IsAdmin(session.Username) {
		abortWithError(c, domain.ErrForbidden)
		return
	}
	c.Next()
}

func requireCSRF(c *gin.Context) {
	session := currentSession(c)
	if session == nil || !csrfMatches(c, session) {
		abortWithError(c, domain.ErrCSRFMismatch)
		return
	}
	c.Next()
}

func csrfToken(c *gin.Context) string {
	if token := c.GetHeader(csrfHeader); token != "" {
		return token
	}
	return c.PostForm(csrfField)
}

func csrfMatches(c *gin.Context, session *domain.Session) bool {
	token := csrfToken(c)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(session.CSRFToken)) == 1
}
