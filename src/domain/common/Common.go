package common

import (
	"errors"
	"net/http"
	"reflect"

	domainErrors "go-campaign-dispatch/src/domain/errors"
	"go-campaign-dispatch/src/infrastructure/helper"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type CommonService interface {
	AppendValidationErrors(ctx *gin.Context, ve validator.ValidationErrors, intr interface{})
	RespondWithError(ctx *gin.Context, err error)
}

type commonService struct {
	validator helper.Validator
}

func NewCommonService(validator helper.Validator) CommonService {
	return &commonService{
		validator: validator,
	}
}

type ErrorMsg struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (service *commonService) AppendValidationErrors(ctx *gin.Context, ve validator.ValidationErrors, intr interface{}) {
	out := make([]ErrorMsg, len(ve))

	for i, fe := range ve {
		name, ok := jsonTag(intr, fe.Field())
		if !ok {
			name = fe.Field()
		}
		out[i] = ErrorMsg{name, service.validator.GetErrorMsg(fe)}
	}
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": out})
}

// RespondWithError writes an AppError with its mapped status code.
// Anything else is reported as an internal error without leaking details.
func (service *commonService) RespondWithError(ctx *gin.Context, err error) {
	var appErr *domainErrors.AppError
	if errors.As(err, &appErr) {
		ctx.AbortWithStatusJSON(domainErrors.HTTPStatus(appErr.Type), gin.H{
			"error": appErr.Error(),
			"type":  appErr.Type,
		})
		return
	}
	ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": domainErrors.UnknownErrorMessage})
}

func jsonTag(v interface{}, fieldName string) (string, bool) {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	sf, ok := t.FieldByName(fieldName)
	if !ok {
		return "", false
	}
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return "", false
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], true
		}
	}
	return tag, true
}
