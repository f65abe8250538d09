package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/pkg/errcode"
	"github.com/xxxsen/mrag/internal/pkg/password"
	"github.com/xxxsen/mrag/internal/pkg/response"
)

const ContextUserKey = "auth_user"

// BasicAuth checks the Authorization header against one user whose password
// is stored as a bcrypt hash.
func BasicAuth(username, passwordHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || username == "" || passwordHash == "" ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			password.Compare(passwordHash, pass) != nil {
			if ok {
				logutil.GetLogger(c.Request.Context()).Warn("basic auth rejected",
					zap.String("user", user),
					zap.String("ip", c.ClientIP()),
				)
			}
			c.Header("WWW-Authenticate", `Basic realm="mrag"`)
			response.ErrorWithStatus(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}
