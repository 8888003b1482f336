package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleLogin(c *gin.Context) {
	redirect, err := s.deps.Auth.BeginLogin(c.Request.Context(), c.Query("next"))
	if err != nil {
		s.writeError(c, "login", err)
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

func (s *Server) handleAuthCallback(c *gin.Context) {
	session, next, err := s.deps.Auth.CompleteLogin(c.Request.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		s.writeError(c, "auth_callback", err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, session.ID, int(s.cfg.SessionTTL.Seconds()), "/", "", s.secure, true)
	c.Redirect(http.StatusFound, next)
}

func (s *Server) handleLogout(c *gin.Context) {
	if id, err := c.Cookie(sessionCookie); err == nil {
		if err := s.deps.Auth.Logout(c.Request.Context(), id); err != nil {
			s.writeError(c, "logout", err)
			return
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", s.secure, true)
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleMe(c *gin.Context) {
	session := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":     session.UserID,
		"username":    session.Username,
		"avatar_url":  session.AvatarURL,
		"trust_level": session.TrustLevel,
		"csrf_token":  session.CSRFToken,
		"is_admin":    s.cfg.IsAdmin(session.Username),
	})
}
