package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// LogApi emits one access line per request: timestamp, method, path,
// status, latency, client, then any handler error. WebSocket upgrades
// log once at upgrade time; frame traffic is not logged here.
func LogApi() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		errMsg := ""
		if param.ErrorMessage != "" {
			errMsg = " | " + param.ErrorMessage
		}
		return fmt.Sprintf("[%s] %s %s -> %d in %s | %s | %s%s\n",
			param.TimeStamp.Format("2006-01-02 15:04:05"),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
			param.ClientIP,
			param.Request.UserAgent(),
			errMsg,
		)
	})
}
