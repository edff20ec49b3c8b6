package errors

import (
	"errors"
	"net/http"
)

type ErrorType string

const (
	NotFound           ErrorType = "NotFound"
	ValidationError    ErrorType = "ValidationError"
	ConflictError      ErrorType = "ConflictError"
	TransientSendError ErrorType = "TransientSendError"
	PermanentSendError ErrorType = "PermanentSendError"
	PersistenceError   ErrorType = "PersistenceError"
	UnknownError       ErrorType = "UnknownError"
)

const (
	NotFoundMessage           = "record not found"
	ValidationErrorMessage    = "validation error"
	ConflictErrorMessage      = "resource is in a conflicting state"
	TransientSendErrorMessage = "provider temporarily unavailable"
	PermanentSendErrorMessage = "provider rejected the message"
	PersistenceErrorMessage   = "store unavailable"
	UnknownErrorMessage       = "something went wrong"
)

// AppError carries an ErrorType alongside the wrapped cause.
type AppError struct {
	Err  error
	Type ErrorType
}

func NewAppError(err error, errType ErrorType) *AppError {
	return &AppError{
		Err:  err,
		Type: errType,
	}
}

func NewAppErrorWithType(errType ErrorType) *AppError {
	var err error

	switch errType {
	case NotFound:
		err = errors.New(NotFoundMessage)
	case ValidationError:
		err = errors.New(ValidationErrorMessage)
	case ConflictError:
		err = errors.New(ConflictErrorMessage)
	case TransientSendError:
		err = errors.New(TransientSendErrorMessage)
	case PermanentSendError:
		err = errors.New(PermanentSendErrorMessage)
	case PersistenceError:
		err = errors.New(PersistenceErrorMessage)
	default:
		err = errors.New(UnknownErrorMessage)
	}

	return &AppError{
		Err:  err,
		Type: errType,
	}
}

func (appErr *AppError) Error() string {
	return appErr.Err.Error()
}

func (appErr *AppError) Unwrap() error {
	return appErr.Err
}

// IsType reports whether err is, or wraps, an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// HTTPStatus maps an ErrorType to the status code returned by the REST layer.
func HTTPStatus(errType ErrorType) int {
	switch errType {
	case NotFound:
		return http.StatusNotFound
	case ValidationError:
		return http.StatusBadRequest
	case ConflictError:
		return http.StatusConflict
	case TransientSendError:
		return http.StatusServiceUnavailable
	case PermanentSendError:
		return http.StatusBadGateway
	case PersistenceError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
