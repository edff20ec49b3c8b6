package campaign

import (
	"errors"
	"net/http"

	useCaseCampaign "go-campaign-dispatch/src/application/usecases/campaign"
	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	"go-campaign-dispatch/src/domain/common"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type ICampaignController interface {
	NewCampaign(ctx *gin.Context)
	ListCampaigns(ctx *gin.Context)
	GetCampaign(ctx *gin.Context)
	StartProcessing(ctx *gin.Context)
	SendMessages(ctx *gin.Context)
	CancelCampaign(ctx *gin.Context)
	GetRealtimeStats(ctx *gin.Context)
	GetMessageHistory(ctx *gin.Context)
	DeleteCampaign(ctx *gin.Context)
}

type CampaignController struct {
	commonService   common.CommonService
	campaignUseCase useCaseCampaign.ICampaignUseCase
	Logger          *logger.Logger
}

func NewCampaignController(
	commonService common.CommonService,
	campaignUseCase useCaseCampaign.ICampaignUseCase,
	loggerInstance *logger.Logger,
) ICampaignController {
	return &CampaignController{
		commonService:   commonService,
		campaignUseCase: campaignUseCase,
		Logger:          loggerInstance,
	}
}

func (c *CampaignController) NewCampaign(ctx *gin.Context) {
	var request NewCampaignRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		c.Logger.Error("Couldn't process request - invalid request", zap.Error(err))
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.commonService.AppendValidationErrors(ctx, ve, request)
			return
		}
		_ = ctx.AbortWithError(http.StatusBadRequest, err)
		return
	}

	created, err := c.campaignUseCase.Create(&useCaseCampaign.CreateCampaignRequest{
		Name:                request.Name,
		MessageTemplate:     request.MessageTemplate,
		MessageDelaySeconds: request.MessageDelaySeconds,
		ContactIDs:          request.ContactIDs,
		ListIDs:             request.ListIDs,
	})
	if err != nil {
		c.Logger.Error("Error creating campaign", zap.Error(err), zap.String("name", request.Name))
		c.commonService.RespondWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, domainToResponseMapper(created))
}

func (c *CampaignController) ListCampaigns(ctx *gin.Context) {
	var request ListCampaignsRequest
	if err := ctx.ShouldBindQuery(&request); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.commonService.AppendValidationErrors(ctx, ve, request)
			return
		}
		_ = ctx.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if request.Page == 0 {
		request.Page = 1
	}
	if request.PageSize == 0 {
		request.PageSize = 20
	}

	result, err := c.campaignUseCase.List(domainCampaign.ListFilter{
		Status:   domainCampaign.Status(request.Status),
		Page:     request.Page,
		PageSize: request.PageSize,
	})
	if err != nil {
		c.Logger.Error("Error listing campaigns", zap.Error(err))
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, searchResultToResponseMapper(result))
}

// bindCampaignID reads :id and answers 400 itself when it is not a positive integer
func (c *CampaignController) bindCampaignID(ctx *gin.Context) (int, bool) {
	var request CampaignIDRequest
	if err := ctx.ShouldBindUri(&request); err != nil {
		c.Logger.Warn("Invalid campaign id", zap.String("id", ctx.Param("id")))
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid campaign id"})
		return 0, false
	}
	return request.ID, true
}

func (c *CampaignController) GetCampaign(ctx *gin.Context) {
	id, ok := c.bindCampaignID(ctx)
	if !ok {
		return
	}
	campaign, err := c.campaignUseCase.GetByID(id)
	if err != nil {
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, domainToResponseMapper(campaign))
}

func (c *CampaignController) StartProcessing(ctx *gin.Context) {
	id, ok := c.bindCampaignID(ctx)
	if !ok {
		return
	}
	result, err := c.campaignUseCase.StartProcessing(ctx.Request.Context(), id)
	if err != nil {
		c.Logger.Warn("Error starting campaign", zap.Error(err), zap.Int("campaignID", id))
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, result)
}

func (c *CampaignController) SendMessages(ctx *gin.Context) {
	id, ok := c.bindCampaignID(ctx)
	if !ok {
		return
	}
	result, err := c.campaignUseCase.SendMessages(ctx.Request.Context(), id)
	if err != nil {
		c.Logger.Warn("Error processing campaign batch", zap.Error(err), zap.Int("campaignID", id))
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *CampaignController) CancelCampaign(ctx *gin.Context) {
	id, ok := c.bindCampaignID(ctx)
	if !ok {
		return
	}
	campaign, err := c.campaignUseCase.Cancel(ctx.Request.Context(), id)
	if err != nil {
		c.Logger.Warn("Error cancelling campaign", zap.Error(err), zap.Int("campaignID", id))
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, domainToResponseMapper(campaign))
}

func (c *CampaignController) GetRealtimeStats(ctx *gin.Context) {
	id, ok := c.bindCampaignID(ctx)
	if !ok {
		return
	}
	stats, err := c.campaignUseCase.GetRealtimeStats(id)
	if err != nil {
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

func (c *CampaignController) GetMessageHistory(ctx *gin.Context) {
	var request MessageHistoryRequest
	if err := ctx.ShouldBindUri(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid campaign or message id"})
		return
	}
	history, err := c.campaignUseCase.GetMessageHistory(request.ID, request.MessageID)
	if err != nil {
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"messageId": request.MessageID, "history": historyToResponseMapper(history)})
}

func (c *CampaignController) DeleteCampaign(ctx *gin.Context) {
	id, ok := c.bindCampaignID(ctx)
	if !ok {
		return
	}
	if err := c.campaignUseCase.Delete(id); err != nil {
		c.Logger.Warn("Error deleting campaign", zap.Error(err), zap.Int("campaignID", id))
		c.commonService.RespondWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
