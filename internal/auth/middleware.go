package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// RequireAuth aborts with 401 unless the resolver authenticates the request.
// The identity is stored on the context along with the user_id and username
// keys handlers read.
func RequireAuth(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch s := resolver.Resolve(c.Request.Context(), c.Request).(type) {
		case Authenticated:
			c.Set(identityKey, s.Identity)
			c.Set("user_id", s.Identity.UserID)
			c.Set("username", s.Identity.Username)
			c.Next()
		case Unauthenticated:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": s.Reason})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		}
	}
}

// IdentityFrom returns the identity set by RequireAuth.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
