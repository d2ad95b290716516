package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "auth.user_id"
	ctxEmail  = "auth.email"
)

type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Bearer rejects requests without a valid bearer token and stores the caller in the gin context.
func Bearer(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authorization header required"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid authorization header format"})
			return
		}

		claims, err := v.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid or expired token"})
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// Self only lets callers act on their own resources: the route parameter must equal the token subject.
func Self(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param(param) != UserID(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "not allowed to access another user"})
			return
		}
		c.Next()
	}
}

// UserID is the authenticated caller, empty outside Bearer.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func Email(c *gin.Context) string {
	return c.GetString(ctxEmail)
}
