package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CorrelationIDKey is the gin context key holding the request's correlation id
	CorrelationIDKey    = "correlation_id"
	CorrelationIDHeader = "X-Correlation-ID"
)

var traceContext = propagation.TraceContext{}

// CorrelationID tags every request with an id that ends up on payment audits.
// A W3C traceparent header wins, then an incoming X-Correlation-ID, then a
// fresh uuid. The trace context is kept on the request context.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := traceContext.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		c.Request = c.Request.WithContext(ctx)

		var id string
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			id = sc.TraceID().String()
		} else if header := c.GetHeader(CorrelationIDHeader); header != "" && len(header) <= 64 {
			id = header
		} else {
			id = uuid.New().String()
		}

		c.Set(CorrelationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

// GetCorrelationID returns the id set by CorrelationID, or ""
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}
