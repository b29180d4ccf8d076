package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const sessionKeyContextKey = "sentinel.session_key"

// sessionKeyMiddleware extracts the bearer token from the Authorization
// header (minted by onboard, spec.md §4.7) and stashes it for handlers
// to pass through to governance.Service as the session key. A missing
// header is not itself an error here: several operations (onboard,
// health_check) do not require one, and the ones that do surface
// AuthRequired/NotBound downstream when no binding exists.
func sessionKeyMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		c.Set(sessionKeyContextKey, token)
	}
	c.Next()
}

func sessionKey(c *gin.Context) string {
	v, _ := c.Get(sessionKeyContextKey)
	s, _ := v.(string)
	return s
}
