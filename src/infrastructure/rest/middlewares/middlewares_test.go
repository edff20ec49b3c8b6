package middlewares

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	return r
}

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestServiceTokenMiddleware(t *testing.T) {
	r := newRouter(ServiceTokenMiddleware("s3cret", logger.NewNopLogger()))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("serviceSubject")) })

	valid := signed(t, "s3cret", jwt.MapClaims{"sub": "crm", "exp": time.Now().Add(time.Hour).Unix()})
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signed(t, "other", jwt.MapClaims{"sub": "crm", "exp": time.Now().Add(time.Hour).Unix()}), http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, "s3cret", jwt.MapClaims{"sub": "crm", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no exp", "Bearer " + signed(t, "s3cret", jwt.MapClaims{"sub": "crm"}), http.StatusUnauthorized},
		{"no subject", "Bearer " + signed(t, "s3cret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}), http.StatusForbidden},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "crm", w.Body.String())
			}
		})
	}
}

func TestServiceTokenMiddleware_DisabledWithoutSecret(t *testing.T) {
	r := newRouter(ServiceTokenMiddleware("", logger.NewNopLogger()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCommonHeaders(t *testing.T) {
	r := newRouter(CommonHeaders())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("requestID")) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestErrorHandler(t *testing.T) {
	r := newRouter(ErrorHandler())
	r.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(domainErrors.NewAppError(errors.New("campaign 1 is sent"), domainErrors.ConflictError))
	})
	r.GET("/bad", func(c *gin.Context) {
		_ = c.AbortWithError(http.StatusBadRequest, errors.New("unexpected EOF"))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("driver: bad connection"))
	})
	r.GET("/written", func(c *gin.Context) {
		_ = c.Error(errors.New("ignored"))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	cases := []struct {
		path   string
		status int
		msg    string
	}{
		{"/conflict", http.StatusConflict, "campaign 1 is sent"},
		{"/bad", http.StatusBadRequest, "unexpected EOF"},
		{"/boom", http.StatusInternalServerError, domainErrors.UnknownErrorMessage},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, tc.path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, tc.path)
		assert.Equal(t, tc.msg, gjson.Get(w.Body.String(), "error").String(), tc.path)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/written", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "ok").Bool())
}
