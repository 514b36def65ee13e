package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/normalize"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

// statusFor maps session errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotSetUp), errors.Is(err, session.ErrNotSignedUp), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// intent runs fn and answers 204 or the mapped error.
func (s *Server) intent(c *gin.Context, fn func(ctx context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func counterpart(c *gin.Context) string {
	return normalize.ID(c.Param("counterpart"))
}

func (s *Server) state(c *gin.Context) {
	v, err := s.sess.View(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) setup(c *gin.Context) {
	s.intent(c, s.sess.Setup)
}

type openRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

func (s *Server) openConversation(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.intent(c, func(ctx context.Context) error {
		return s.sess.OpenConversation(ctx, normalize.ID(req.ConversationID), counterpart(c))
	})
}

func (s *Server) closeConversation(c *gin.Context) {
	s.intent(c, func(ctx context.Context) error { return s.sess.CloseConversation(ctx, counterpart(c)) })
}

func (s *Server) loadOlder(c *gin.Context) {
	s.intent(c, func(ctx context.Context) error { return s.sess.LoadOlderMessages(ctx, counterpart(c)) })
}

func (s *Server) sendMessage(c *gin.Context) {
	var content session.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.intent(c, func(ctx context.Context) error { return s.sess.SendMessage(ctx, counterpart(c), content) })
}

func (s *Server) markRead(c *gin.Context) {
	s.intent(c, func(ctx context.Context) error { return s.sess.MarkConversationRead(ctx, counterpart(c)) })
}

func (s *Server) hide(c *gin.Context) {
	s.intent(c, func(ctx context.Context) error { return s.sess.HideConversation(ctx, counterpart(c)) })
}

type activeRequest struct {
	CounterpartID string `json:"counterpart_id"`
}

func (s *Server) setActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.intent(c, func(ctx context.Context) error {
		return s.sess.SetActiveConversation(ctx, normalize.ID(req.CounterpartID))
	})
}

func (s *Server) startSearch(c *gin.Context) {
	s.intent(c, s.sess.StartPartnerSearch)
}

func (s *Server) stopSearch(c *gin.Context) {
	s.intent(c, s.sess.StopPartnerSearch)
}

type pushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) uploadPushToken(c *gin.Context) {
	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.intent(c, func(ctx context.Context) error { return s.push.Upload(ctx, req.Token) })
}
