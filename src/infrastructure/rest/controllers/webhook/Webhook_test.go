package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-campaign-dispatch/src/application/usecases/reconciler"
	"go-campaign-dispatch/src/domain/common"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	"go-campaign-dispatch/src/infrastructure/helper"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type MockReconcilerUseCase struct {
	handleWebhookFunc func(context.Context, []byte) (*reconciler.Result, error)
}

func (m *MockReconcilerUseCase) ApplyEvent(context.Context, reconciler.StatusEvent) (*reconciler.Result, error) {
	return nil, nil
}

func (m *MockReconcilerUseCase) HandleWebhook(ctx context.Context, body []byte) (*reconciler.Result, error) {
	return m.handleWebhookFunc(ctx, body)
}

func setupRouter(useCase reconciler.IReconcilerUseCase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	loggerInstance := logger.NewNopLogger()
	controller := NewWebhookController(common.NewCommonService(helper.NewValidator(loggerInstance)), useCase, loggerInstance)
	router := gin.New()
	router.POST("/webhook", controller.Receive)
	return router
}

func TestWebhookController_Receive(t *testing.T) {
	var received []byte
	router := setupRouter(&MockReconcilerUseCase{
		handleWebhookFunc: func(_ context.Context, body []byte) (*reconciler.Result, error) {
			received = body
			return &reconciler.Result{Outcome: reconciler.OutcomeApplied, MessageID: 4, To: "delivered"}, nil
		},
	})

	payload := `{"type":"status","data":{"messageId":"ext-1","status":"delivered"}}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, string(received))
	assert.Contains(t, w.Body.String(), `"outcome":"applied"`)
}

func TestWebhookController_Receive_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "invalid body", err: domainErrors.NewAppError(errors.New("webhook body is not valid JSON"), domainErrors.ValidationError), expected: http.StatusBadRequest},
		{name: "store failure", err: domainErrors.NewAppError(errors.New("db down"), domainErrors.PersistenceError), expected: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&MockReconcilerUseCase{
				handleWebhookFunc: func(context.Context, []byte) (*reconciler.Result, error) {
					return nil, tt.err
				},
			})
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("{"))
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}
