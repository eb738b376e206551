package middlewares

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/closetspace/asset-api/utils/requestid"
)

const (
	// RequestIDHeader is the header key for request ID.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the context key platformerrors reads request IDs from.
	RequestIDKey = "requestID"
)

// RequestID propagates the incoming X-Request-ID header or generates a new
// req_ id, and stores it in both the gin context and the request context so
// error envelopes and logs carry the same id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = requestid.New()
		}

		c.Set(RequestIDKey, id)
		ctx := context.WithValue(c.Request.Context(), RequestIDKey, id)
		c.Request = c.Request.WithContext(ctx)

		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// GetRequestID retrieves the request ID from the gin context.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return ""
}
