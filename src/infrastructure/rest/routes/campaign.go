package routes

import (
	"go-campaign-dispatch/src/infrastructure/rest/controllers/campaign"

	"github.com/gin-gonic/gin"
)

func CampaignRoutes(router *gin.RouterGroup, controller campaign.ICampaignController, auth gin.HandlerFunc) {
	c := router.Group("/campaigns")
	c.Use(auth)
	{
		c.POST("", controller.NewCampaign)
		c.GET("", controller.ListCampaigns)
		c.GET("/:id", controller.GetCampaign)
		c.DELETE("/:id", controller.DeleteCampaign)

		// lifecycle
		c.POST("/:id/start-processing", controller.StartProcessing)
		c.POST("/:id/send-messages", controller.SendMessages)
		c.POST("/:id/cancel", controller.CancelCampaign)

		c.GET("/:id/realtime-stats", controller.GetRealtimeStats)
		c.GET("/:id/messages/:messageId/history", controller.GetMessageHistory)
	}
}
