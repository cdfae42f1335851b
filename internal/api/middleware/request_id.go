package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/ledgerlinelabs/ledgerline-cloud/pkg/telemetry/correlation"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a correlation id to every request, honoring one the
// caller already supplied. The id rides the request context so downstream
// layers can log against it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(requestIDHeader); id != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, id)
		}
		ctx, id := correlation.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)

		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}
