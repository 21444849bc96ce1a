package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
)

// TenantContext copies the route's establishment id and the request's
// correlation id into the request context, where the tenant guard plugin and
// the workflow layer read them. Authentication/authorization is handled by
// the gateway in front of this service.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if establishmentId := c.Param("establishmentId"); establishmentId != "" {
			ctx = utils.SetEstablishmentIdInContext(ctx, establishmentId)
		}

		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		if userName := c.GetHeader("X-User-Name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}

		c.Header("X-Correlation-Id", correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
