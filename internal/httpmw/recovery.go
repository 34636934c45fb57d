// Package httpmw holds the small set of gin middleware the router's HTTP
// transport registers. Per spec scope, CORS/TLS/rate-limiting/access-log
// middleware are treated as an external collaborator's concern and are not
// implemented here; only panic containment is, since an unrecovered panic
// in one request would otherwise take down in-flight sessions for every
// other chain.
package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
)

// Recovery returns a panic-recovery middleware that logs the stack and
// replies with a generic 500 instead of closing the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.ByteString("stack", stack),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"code": "INTERNAL_ERROR", "message": "internal error"},
				})
			}
		}()
		c.Next()
	}
}
