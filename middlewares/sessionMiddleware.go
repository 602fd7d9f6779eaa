package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
)

// sessionTTL matches the TTL set at login; each authenticated request slides
// the expiry forward.
const sessionTTL = 24 * time.Hour

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		// Best-effort sliding refresh.
		_ = config.SetRedisValue("Token:"+token, username, sessionTTL)

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
