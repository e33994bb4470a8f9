package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
	"github.com/pot-code/training-progress/internal/progress"
)

// RESTStandardError response error
type RESTStandardError struct {
	Type    string `json:"type,omitempty"`
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func NewRESTStandardError(code int, detail string) *RESTStandardError {
	return &RESTStandardError{
		Code:   code,
		Title:  http.StatusText(code),
		Detail: detail,
	}
}

func (re RESTStandardError) Error() string {
	return re.Detail
}

func (re *RESTStandardError) SetTraceID(traceID string) *RESTStandardError {
	re.TraceID = traceID
	return re
}

// RESTValidationError standard validation error
type RESTValidationError struct {
	RESTStandardError
	InvalidParams []*validate.FieldError `json:"invalid_params"`
}

func NewRESTValidationError(code int, detail string, internal []*validate.FieldError) *RESTValidationError {
	return &RESTValidationError{
		RESTStandardError: RESTStandardError{
			Code:   code,
			Title:  http.StatusText(code),
			Detail: detail,
		},
		InvalidParams: internal,
	}
}

func (rve RESTValidationError) Error() string {
	return rve.Detail
}

func (rve *RESTValidationError) SetTraceID(traceID string) *RESTValidationError {
	rve.RESTStandardError.TraceID = traceID
	return rve
}

// MapError translate an error returned by a handler into a status code and response body
func MapError(err error, traceID string) (int, interface{}) {
	var (
		invalid *progress.InvalidScoreInputError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest,
			NewRESTValidationError(http.StatusBadRequest, progress.ErrInvalidScoreInput.Error(), invalid.Fields).SetTraceID(traceID)
	case errors.Is(err, progress.ErrNotAssigned):
		return standard(http.StatusNotFound, err, traceID)
	case errors.Is(err, progress.ErrContentNotInTraining):
		return standard(http.StatusUnprocessableEntity, err, traceID)
	case errors.Is(err, context.DeadlineExceeded):
		return standard(http.StatusGatewayTimeout, err, traceID)
	case errors.Is(err, progress.ErrStoreUnavailable):
		return http.StatusServiceUnavailable,
			NewRESTStandardError(http.StatusServiceUnavailable, "operation failed, retry later").SetTraceID(traceID)
	case errors.As(err, &httpErr):
		detail := http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok {
			detail = msg
		}
		return httpErr.Code, NewRESTStandardError(httpErr.Code, detail).SetTraceID(traceID)
	}
	return http.StatusInternalServerError,
		NewRESTStandardError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetTraceID(traceID)
}

func standard(code int, err error, traceID string) (int, interface{}) {
	return code, NewRESTStandardError(code, err.Error()).SetTraceID(traceID)
}
