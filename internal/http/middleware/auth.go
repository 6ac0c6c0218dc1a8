// README: Auth middleware; verifies bearer tokens and stores the caller on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sharedride/internal/infra"
	"sharedride/internal/modules/user"
	"sharedride/internal/types"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"
)

// Auth rejects requests without a verifiable token. The token is read from
// "Authorization: Bearer <token>" or, for websocket clients, the token query
// parameter. A missing role claim means passenger.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role := user.RolePassenger
		if claim, ok := tok.Claims["role"].(string); ok && claim != "" {
			parsed, err := user.ParseRole(claim)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown role"})
				return
			}
			role = parsed
		}
		c.Set(ctxUID, tok.UID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return c.Query("token")
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) user.Role {
	if v, ok := c.Get(ctxRole); ok {
		if r, ok := v.(user.Role); ok {
			return r
		}
	}
	return ""
}

func Caller(c *gin.Context) user.Caller {
	return user.Caller{ID: types.ID(CallerUID(c)), Role: CallerRole(c)}
}

// RequireRole must run after Auth.
func RequireRole(role user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": string(role) + " role required"})
			return
		}
		c.Next()
	}
}
