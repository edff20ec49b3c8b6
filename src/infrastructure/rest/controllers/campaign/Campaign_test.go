package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	useCaseCampaign "go-campaign-dispatch/src/application/usecases/campaign"
	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	"go-campaign-dispatch/src/domain/common"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	"go-campaign-dispatch/src/infrastructure/helper"
	logger "go-campaign-dispatch/src/infrastructure/logger"
	"go-campaign-dispatch/src/infrastructure/messaging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCampaignUseCase implements useCaseCampaign.ICampaignUseCase for testing
type MockCampaignUseCase struct {
	createFunc          func(*useCaseCampaign.CreateCampaignRequest) (*domainCampaign.Campaign, error)
	listFunc            func(domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error)
	getByIDFunc         func(int) (*domainCampaign.Campaign, error)
	startProcessingFunc func(context.Context, int) (*useCaseCampaign.StartResult, error)
	sendMessagesFunc    func(context.Context, int) (*useCaseCampaign.SendMessagesResult, error)
	cancelFunc          func(context.Context, int) (*domainCampaign.Campaign, error)
	realtimeStatsFunc   func(int) (*useCaseCampaign.RealtimeStats, error)
	messageHistoryFunc  func(int, int) (*[]domainCampaign.StatusChange, error)
	deleteFunc          func(int) error
}

func (m *MockCampaignUseCase) Create(req *useCaseCampaign.CreateCampaignRequest) (*domainCampaign.Campaign, error) {
	return m.createFunc(req)
}

func (m *MockCampaignUseCase) List(filter domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error) {
	return m.listFunc(filter)
}

func (m *MockCampaignUseCase) GetByID(id int) (*domainCampaign.Campaign, error) {
	return m.getByIDFunc(id)
}

func (m *MockCampaignUseCase) MaterializeRecipients(int) (int, error) {
	return 0, nil
}

func (m *MockCampaignUseCase) StartProcessing(ctx context.Context, id int) (*useCaseCampaign.StartResult, error) {
	return m.startProcessingFunc(ctx, id)
}

func (m *MockCampaignUseCase) SendMessages(ctx context.Context, id int) (*useCaseCampaign.SendMessagesResult, error) {
	return m.sendMessagesFunc(ctx, id)
}

func (m *MockCampaignUseCase) Cancel(ctx context.Context, id int) (*domainCampaign.Campaign, error) {
	return m.cancelFunc(ctx, id)
}

func (m *MockCampaignUseCase) GetRealtimeStats(id int) (*useCaseCampaign.RealtimeStats, error) {
	return m.realtimeStatsFunc(id)
}

func (m *MockCampaignUseCase) GetMessageHistory(campaignID int, messageID int) (*[]domainCampaign.StatusChange, error) {
	return m.messageHistoryFunc(campaignID, messageID)
}

func (m *MockCampaignUseCase) Delete(id int) error {
	return m.deleteFunc(id)
}

func (m *MockCampaignUseCase) InvalidateStats(int) {}

func setupRouter(useCase *MockCampaignUseCase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	loggerInstance := logger.NewNopLogger()
	commonService := common.NewCommonService(helper.NewValidator(loggerInstance))
	controller := NewCampaignController(commonService, useCase, loggerInstance)

	router := gin.New()
	router.POST("/campaigns", controller.NewCampaign)
	router.GET("/campaigns", controller.ListCampaigns)
	router.GET("/campaigns/:id", controller.GetCampaign)
	router.POST("/campaigns/:id/start", controller.StartProcessing)
	router.POST("/campaigns/:id/send", controller.SendMessages)
	router.POST("/campaigns/:id/cancel", controller.CancelCampaign)
	router.GET("/campaigns/:id/stats", controller.GetRealtimeStats)
	router.GET("/campaigns/:id/messages/:messageId/history", controller.GetMessageHistory)
	router.DELETE("/campaigns/:id", controller.DeleteCampaign)
	return router
}

func perform(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sampleCampaign(id int, status domainCampaign.Status) *domainCampaign.Campaign {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &domainCampaign.Campaign{
		ID:               id,
		Name:             "Spring promo",
		MessageTemplate:  "Hi {{name}}",
		Status:           status,
		TargetContactIDs: []int{1, 2},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCampaignController_NewCampaign_Success(t *testing.T) {
	var received *useCaseCampaign.CreateCampaignRequest
	router := setupRouter(&MockCampaignUseCase{
		createFunc: func(req *useCaseCampaign.CreateCampaignRequest) (*domainCampaign.Campaign, error) {
			received = req
			return sampleCampaign(7, domainCampaign.StatusDraft), nil
		},
	})

	w := perform(router, http.MethodPost, "/campaigns", NewCampaignRequest{
		Name:                "Spring promo",
		MessageTemplate:     "Hi {{name}}",
		MessageDelaySeconds: 2,
		ContactIDs:          []int{1, 2},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, received)
	assert.Equal(t, 2, received.MessageDelaySeconds)
	assert.Equal(t, []int{1, 2}, received.ContactIDs)

	var response CampaignResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 7, response.ID)
	assert.Equal(t, "draft", response.Status)
	assert.Equal(t, []int{}, response.ListIDs)
}

func TestCampaignController_NewCampaign_ValidationErrors(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{})

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing name", body: NewCampaignRequest{MessageTemplate: "hi", ContactIDs: []int{1}}},
		{name: "no targets", body: NewCampaignRequest{Name: "x", MessageTemplate: "hi"}},
		{name: "delay too large", body: NewCampaignRequest{Name: "x", MessageTemplate: "hi", ContactIDs: []int{1}, MessageDelaySeconds: 7200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(router, http.MethodPost, "/campaigns", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "errors")
		})
	}

	w := perform(router, http.MethodPost, "/campaigns", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCampaignController_NewCampaign_UseCaseValidation(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		createFunc: func(*useCaseCampaign.CreateCampaignRequest) (*domainCampaign.Campaign, error) {
			return nil, domainErrors.NewAppError(errors.New("template has unbalanced braces"), domainErrors.ValidationError)
		},
	})

	w := perform(router, http.MethodPost, "/campaigns", NewCampaignRequest{Name: "x", MessageTemplate: "Hi {{name", ListIDs: []int{3}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unbalanced")
}

func TestCampaignController_ListCampaigns(t *testing.T) {
	var filter domainCampaign.ListFilter
	router := setupRouter(&MockCampaignUseCase{
		listFunc: func(f domainCampaign.ListFilter) (*domainCampaign.SearchResultCampaign, error) {
			filter = f
			data := []domainCampaign.Campaign{*sampleCampaign(2, domainCampaign.StatusSent), *sampleCampaign(1, domainCampaign.StatusSent)}
			return &domainCampaign.SearchResultCampaign{Data: &data, Total: 2, Page: 1, PageSize: 20, TotalPages: 1}, nil
		},
	})

	w := perform(router, http.MethodGet, "/campaigns?status=sent", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domainCampaign.StatusSent, filter.Status)
	assert.Equal(t, 1, filter.Page)
	assert.Equal(t, 20, filter.PageSize)

	var response PaginatedCampaignsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Data, 2)
	assert.Equal(t, int64(2), response.Total)

	w = perform(router, http.MethodGet, "/campaigns?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = perform(router, http.MethodGet, "/campaigns?pageSize=500", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCampaignController_GetCampaign(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		getByIDFunc: func(id int) (*domainCampaign.Campaign, error) {
			if id == 1 {
				return sampleCampaign(1, domainCampaign.StatusDraft), nil
			}
			return nil, domainErrors.NewAppErrorWithType(domainErrors.NotFound)
		},
	})

	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/campaigns/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, perform(router, http.MethodGet, "/campaigns/9", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/campaigns/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/campaigns/0", nil).Code)
}

func TestCampaignController_StartProcessing(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		startProcessingFunc: func(_ context.Context, id int) (*useCaseCampaign.StartResult, error) {
			if id == 2 {
				return nil, domainErrors.NewAppError(errors.New("campaign is not a draft"), domainErrors.ConflictError)
			}
			return &useCaseCampaign.StartResult{CampaignID: id, Status: domainCampaign.StatusInProgress, Recipients: 3}, nil
		},
	})

	w := perform(router, http.MethodPost, "/campaigns/1/start", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	var result useCaseCampaign.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Recipients)
	assert.Equal(t, domainCampaign.StatusInProgress, result.Status)

	assert.Equal(t, http.StatusConflict, perform(router, http.MethodPost, "/campaigns/2/start", nil).Code)
}

func TestCampaignController_SendMessages(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		sendMessagesFunc: func(_ context.Context, id int) (*useCaseCampaign.SendMessagesResult, error) {
			return &useCaseCampaign.SendMessagesResult{
				TickResult: messaging.TickResult{Processed: 2, Sent: 2, Closed: true, Status: domainCampaign.StatusSent},
			}, nil
		},
	})

	w := perform(router, http.MethodPost, "/campaigns/4/send", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":2`)
	assert.Contains(t, w.Body.String(), `"dispatcherRunning":false`)
}

func TestCampaignController_CancelCampaign(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		cancelFunc: func(_ context.Context, id int) (*domainCampaign.Campaign, error) {
			return sampleCampaign(id, domainCampaign.StatusDraft), nil
		},
	})

	w := perform(router, http.MethodPost, "/campaigns/5/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"draft"`)
}

func TestCampaignController_GetRealtimeStats(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		realtimeStatsFunc: func(id int) (*useCaseCampaign.RealtimeStats, error) {
			return &useCaseCampaign.RealtimeStats{
				CampaignID: id,
				Status:     domainCampaign.StatusInProgress,
				Stats:      domainCampaign.Stats{Pending: 1, Sent: 2},
			}, nil
		},
	})

	w := perform(router, http.MethodGet, "/campaigns/3/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":1`)
}

func TestCampaignController_GetMessageHistory(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		messageHistoryFunc: func(campaignID, messageID int) (*[]domainCampaign.StatusChange, error) {
			if campaignID != 1 {
				return nil, domainErrors.NewAppErrorWithType(domainErrors.NotFound)
			}
			history := []domainCampaign.StatusChange{
				{MessageID: messageID, FromStatus: domainCampaign.MessagePending, ToStatus: domainCampaign.MessageSent, Source: domainCampaign.SourceDispatcher},
			}
			return &history, nil
		},
	})

	w := perform(router, http.MethodGet, "/campaigns/1/messages/8/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source":"dispatcher"`)

	assert.Equal(t, http.StatusNotFound, perform(router, http.MethodGet, "/campaigns/2/messages/8/history", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/campaigns/1/messages/x/history", nil).Code)
}

func TestCampaignController_DeleteCampaign(t *testing.T) {
	router := setupRouter(&MockCampaignUseCase{
		deleteFunc: func(id int) error {
			if id == 2 {
				return domainErrors.NewAppError(errors.New("campaign is in progress"), domainErrors.ConflictError)
			}
			return nil
		},
	})

	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/campaigns/1", nil).Code)
	assert.Equal(t, http.StatusConflict, perform(router, http.MethodDelete, "/campaigns/2", nil).Code)
}
