package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery middleware catches panics, logs them with stack traces, and returns a 500 error
// in the API error envelope
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())

				correlationID := GetCorrelationID(c)

				attrs := []any{
					"error", r,
					"stack", stack,
					"path", c.Request.URL.Path,
					"route", c.FullPath(),
					"method", c.Request.Method,
				}
				if correlationID != "" {
					attrs = append(attrs, "correlation_id", correlationID)
				}
				if actor, ok := GetActor(c); ok {
					attrs = append(attrs, "user_id", actor.ID.String())
				}
				logger.Error("Panic recovered", attrs...)

				response := gin.H{
					"error": gin.H{
						"code":    "INTERNAL_SERVER_ERROR",
						"message": "An internal server error occurred",
					},
				}

				if correlationID != "" {
					response["correlation_id"] = correlationID
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, response)
			}
		}()

		c.Next()
	}
}
