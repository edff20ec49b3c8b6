package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

const RequestIDHeader = "X-Request-ID"

// CommonHeaders assigns a request id when the caller did not send one and
// sets the response headers shared by every route.
func CommonHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			if id, err := uuid.NewV4(); err == nil {
				requestID = id.String()
				c.Request.Header.Set(RequestIDHeader, requestID)
			}
		}
		c.Set("requestID", requestID)
		c.Header(RequestIDHeader, requestID)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
