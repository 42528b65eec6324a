package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuditMiddleware records every write request under /api/ with the
// notification service's audit log. A nil client disables it.
func AuditMiddleware(c *Client, agent string, logger *zap.Logger) gin.HandlerFunc {
	if c == nil {
		return func(ctx *gin.Context) { ctx.Next() }
	}
	if strings.TrimSpace(agent) == "" {
		agent = "fundflow"
	}

	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.Request.URL.Path
		method := strings.ToUpper(ctx.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}
		// Provider webhooks are high volume and already deduplicated.
		if strings.HasPrefix(path, "/api/v1/callbacks/") {
			return
		}

		status := ctx.Writer.Status()
		auditCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := c.Audit(auditCtx, AuditEntry{
			Agent:  agent,
			Action: "http_write",
			Level:  levelFromStatus(status),
			Details: map[string]any{
				"method":   method,
				"path":     ctx.FullPath(),
				"status":   status,
				"duration": time.Since(start).String(),
			},
		})
		if err != nil && logger != nil {
			logger.Debug("audit log failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
