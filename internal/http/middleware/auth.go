// README: Firebase ID-token auth middleware; the verified uid is the caller's passenger id.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rider/internal/infra"
)

const (
	ctxUID  = "auth.uid"
	ctxRole = "auth.role"
)

// Auth rejects requests without a valid "Bearer <id token>" header. Browsers
// cannot set headers on WebSocket upgrades, so a token query parameter is
// accepted there.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" && c.IsWebsocket() {
		return c.Query("token")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// CallerUID returns the uid set by Auth, or "".
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// CallerRole returns the role claim set by Auth, or "".
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
