package webhook

import (
	"net/http"

	"go-campaign-dispatch/src/application/usecases/reconciler"
	"go-campaign-dispatch/src/domain/common"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type IWebhookController interface {
	Receive(ctx *gin.Context)
}

type WebhookController struct {
	commonService     common.CommonService
	reconcilerUseCase reconciler.IReconcilerUseCase
	Logger            *logger.Logger
}

func NewWebhookController(
	commonService common.CommonService,
	reconcilerUseCase reconciler.IReconcilerUseCase,
	loggerInstance *logger.Logger,
) IWebhookController {
	return &WebhookController{
		commonService:     commonService,
		reconcilerUseCase: reconcilerUseCase,
		Logger:            loggerInstance,
	}
}

// Receive acknowledges every well formed callback, including the ones that
// change nothing, so the provider does not redeliver them.
func (c *WebhookController) Receive(ctx *gin.Context) {
	body, err := ctx.GetRawData()
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	result, err := c.reconcilerUseCase.HandleWebhook(ctx.Request.Context(), body)
	if err != nil {
		c.Logger.Warn("Webhook not processed", zap.Error(err))
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}
