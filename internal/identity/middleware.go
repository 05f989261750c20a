package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxPrincipal = "caseledger_principal"

// RequireSession returns a Gin middleware that enforces a valid session
// Bearer token. On success the Principal is stored in the context.
func RequireSession(sessions *SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer session token required",
			})
			return
		}

		claims, err := sessions.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid session token: " + err.Error(),
			})
			return
		}

		c.Set(ctxPrincipal, claims.Principal())
		c.Next()
	}
}

// RequireRole returns a Gin middleware that admits only the given roles.
// It must run after RequireSession.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromCtx(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "role " + string(p.Role) + " may not perform this operation",
		})
	}
}

// PrincipalFromCtx returns the Principal injected by RequireSession.
func PrincipalFromCtx(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// WithPrincipal stores p in the context. Used by tests and by handlers
// mounted behind a different authentication layer.
func WithPrincipal(c *gin.Context, p Principal) {
	c.Set(ctxPrincipal, p)
}
