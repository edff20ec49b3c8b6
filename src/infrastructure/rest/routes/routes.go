package routes

import (
	"net/http"

	"go-campaign-dispatch/src/infrastructure/di"
	"go-campaign-dispatch/src/infrastructure/rest/middlewares"

	"github.com/gin-gonic/gin"
)

func ApplicationRouter(router *gin.Engine, appContext *di.ApplicationContext) {
	v1 := router.Group("/v1")

	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Service is running",
		})
	})

	auth := middlewares.ServiceTokenMiddleware(appContext.Config.Auth.JWTSecret, appContext.Logger)
	CampaignRoutes(v1, appContext.CampaignController, auth)

	// providers are usually configured with a bare /webhook url
	WebhookRoutes(router, appContext.WebhookController)
	WebhookRoutes(v1, appContext.WebhookController)
}
