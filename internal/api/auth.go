package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/middleware"
)

// bearerToken reads the Authorization header. Websocket clients that cannot
// set headers pass access_token as a query parameter instead.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer"))
	}
	return c.Query("access_token")
}

// authenticate verifies the bearer JWT and only admits the user this
// process runs the session for.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims, err := s.jwt.VerifyToken(token)
		if err != nil {
			s.log.Debug("rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		current, ok := s.ident.CurrentUserID()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no user signed in"})
			return
		}
		if claims.UserID != current {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token belongs to another user"})
			return
		}

		c.Set(middleware.UserIDKey, claims.UserID)
		c.Next()
	}
}
