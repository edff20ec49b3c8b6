package helper

import (
	"fmt"

	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Validator interface {
	GetErrorMsg(fe validator.FieldError) string
}

type fieldValidator struct {
	Logger *logger.Logger
}

func NewValidator(loggerInstance *logger.Logger) Validator {
	return &fieldValidator{Logger: loggerInstance}
}

// GetErrorMsg turns a validator tag failure into a human readable message
func (v *fieldValidator) GetErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "required_without":
		return fmt.Sprintf("This field is required when %s is empty", fe.Param())
	case "min":
		return fmt.Sprintf("Should be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("Should be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("Should be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("Should be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Should be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("Should be greater than %s", fe.Param())
	}
	v.Logger.Debug("Unmapped validation tag", zap.String("tag", fe.Tag()), zap.String("field", fe.Field()))
	return "Unknown error"
}
