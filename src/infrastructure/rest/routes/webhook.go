package routes

import (
	"go-campaign-dispatch/src/infrastructure/rest/controllers/webhook"

	"github.com/gin-gonic/gin"
)

// WebhookRoutes is left unauthenticated; callbacks are matched by instance key instead
func WebhookRoutes(router gin.IRoutes, controller webhook.IWebhookController) {
	router.POST("/webhook", controller.Receive)
}
