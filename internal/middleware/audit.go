package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/nutri-api/internal/audit"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

// AuditDenials writes every authorization denial raised by the gates or the
// services to the audit trail. It must be registered before the gates.
func AuditDenials(logger *audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			appErr, ok := apperrors.As(ginErr.Err)
			if !ok || appErr.Kind != apperrors.KindForbidden {
				continue
			}

			claims, _ := ClaimsFrom(c)
			endpoint := c.FullPath()
			if endpoint == "" {
				endpoint = c.Request.URL.Path
			}
			logger.Denied(audit.Denial{
				Endpoint:  endpoint,
				Method:    c.Request.Method,
				RequestID: c.GetString(ContextRequestID),
				Actor:     claims,
				Reason:    appErr.Reason,
			})
		}
	}
}
