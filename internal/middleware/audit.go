package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/planora/planora-auth/internal/models"
	"github.com/planora/planora-auth/internal/service"
)

// Audit records an audit event after a successful request on protected
// routes. Writes go through the best-effort audit queue and never block
// or fail the request.
func Audit(audit *service.AuditService, eventType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		var actorID *string
		if claims, ok := c.Get(ContextUserKey); ok {
			user := claims.(*models.AccessClaims)
			actorID = &user.Subject
		}

		audit.Record(eventType, actorID, map[string]interface{}{
			"path":   c.FullPath(),
			"method": c.Request.Method,
			"status": c.Writer.Status(),
		}, models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")})
	}
}
