package middlewares

import (
	"errors"
	"net/http"

	domainErrors "go-campaign-dispatch/src/domain/errors"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders errors attached with ctx.Error when the handler
// did not write a body itself.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Size() > 0 {
			return
		}
		err := c.Errors.Last().Err

		var appErr *domainErrors.AppError
		if errors.As(err, &appErr) {
			c.JSON(domainErrors.HTTPStatus(appErr.Type), gin.H{"error": appErr.Error(), "type": appErr.Type})
			return
		}

		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		message := err.Error()
		if status >= http.StatusInternalServerError {
			message = domainErrors.UnknownErrorMessage
		}
		c.JSON(status, gin.H{"error": message})
	}
}
