// Package api exposes the session to a presentation layer: JSON intents,
// the current state and a websocket stream of state updates.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/auth"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/middleware"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

// Session is the part of *session.Session the API drives.
type Session interface {
	Setup(ctx context.Context) error
	View(ctx context.Context) (session.View, error)
	OpenConversation(ctx context.Context, conversationID, counterpartID string) error
	CloseConversation(ctx context.Context, counterpartID string) error
	LoadOlderMessages(ctx context.Context, counterpartID string) error
	SendMessage(ctx context.Context, counterpartID string, content session.Content) error
	MarkConversationRead(ctx context.Context, counterpartID string) error
	HideConversation(ctx context.Context, counterpartID string) error
	SetActiveConversation(ctx context.Context, counterpartID string) error
	StartPartnerSearch(ctx context.Context) error
	StopPartnerSearch(ctx context.Context) error
}

// TokenUploader stores push tokens.
type TokenUploader interface {
	Upload(ctx context.Context, token string) error
}

// Identity reports the user the session runs for.
type Identity interface {
	CurrentUserID() (string, bool)
}

// Server holds the handler dependencies.
type Server struct {
	sess    Session
	push    TokenUploader
	hub     *ConnectionHub
	jwt     *auth.JWTManager
	ident   Identity
	limiter *middleware.LimiterStore
	log     *zap.Logger
}

// NewServer wires the handlers. limiter may be nil to disable rate limiting.
func NewServer(sess Session, push TokenUploader, hub *ConnectionHub, jwt *auth.JWTManager, ident Identity, limiter *middleware.LimiterStore, log *zap.Logger) *Server {
	return &Server{
		sess:    sess,
		push:    push,
		hub:     hub,
		jwt:     jwt,
		ident:   ident,
		limiter: limiter,
		log:     log.Named("api"),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authed := r.Group("/", s.authenticate())
	authed.GET("/state", s.state)
	authed.GET("/ws", s.stream)

	writes := authed.Group("/")
	if s.limiter != nil {
		writes.Use(middleware.RateLimit(s.limiter))
	}
	writes.POST("/setup", s.setup)
	writes.PUT("/push-token", s.uploadPushToken)
	writes.PUT("/active-conversation", s.setActive)
	writes.POST("/partner-search", s.startSearch)
	writes.DELETE("/partner-search", s.stopSearch)

	conv := writes.Group("/conversations/:counterpart")
	conv.POST("/open", s.openConversation)
	conv.POST("/close", s.closeConversation)
	conv.POST("/older", s.loadOlder)
	conv.POST("/messages", s.sendMessage)
	conv.POST("/read", s.markRead)
	conv.POST("/hide", s.hide)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
