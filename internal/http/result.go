package httpapi

import (
	"errors"
	"net/http"

	"cityv-crowd/internal/models"
)

// Error codes returned in ErrorBody.Code
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeDeviceNotFound      = "DEVICE_NOT_FOUND"
	CodeDeviceInactive      = "DEVICE_INACTIVE"
	CodeAggregationConflict = "AGGREGATION_CONFLICT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL"
)

// ErrorBody error detail of a failed request
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result response envelope
type Result[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Fail(code, message string) Result[any] {
	return Result[any]{Success: false, Error: &ErrorBody{Code: code, Message: message}}
}

// statusOf maps a domain error onto an HTTP status and error code
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidSchedule):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, models.ErrDeviceNotFound):
		return http.StatusNotFound, CodeDeviceNotFound
	case errors.Is(err, models.ErrDeviceInactive):
		return http.StatusConflict, CodeDeviceInactive
	case errors.Is(err, models.ErrAggregationConflict):
		return http.StatusServiceUnavailable, CodeAggregationConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
