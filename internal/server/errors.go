package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cligate/internal/backend"
	"cligate/internal/router"
	"cligate/internal/translator"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
	Param   string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error translator.ErrorDetail `json:"error"`
}

func writeError(c echo.Context, reqErr requestError) error {
	return respondJSON(c, reqErr.Status, errorBody{Error: translator.ErrorDetail{
		Message: reqErr.Message,
		Type:    reqErr.Type,
		Code:    reqErr.Code,
		Param:   reqErr.Param,
	}})
}

func openAIErrorHandler(err error, c echo.Context) {
	// The request logger handles errors before logging, so the same error
	// arrives here a second time once the response is out.
	if c.Response().Committed {
		slog.Debug("error after response was committed", "err", err, "path", c.Request().URL.Path)
		return
	}

	reqErr := toHTTPError(err)
	if errors.Is(err, echo.ErrNotFound) {
		reqErr = requestError{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("Endpoint not found: %s %s", c.Request().Method, c.Request().URL.Path),
			Type:    "not_found",
			Code:    "endpoint_not_found",
		}
	}

	level := slog.LevelWarn
	if reqErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(c.Request().Context(), level, "request error",
		"status", reqErr.Status,
		"type", reqErr.Type,
		"code", reqErr.Code,
		"message", reqErr.Message,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(reqErr.Status)
		return
	}
	_ = writeError(c, reqErr)
}

// toHTTPError classifies err into the OpenAI error shape.
func toHTTPError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var validationErr *translator.ValidationError
	if errors.As(err, &validationErr) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: validationErr.Message,
			Type:    "invalid_request_error",
			Code:    "validation_error",
			Param:   validationErr.Param,
		}
	}

	var notFound *router.ModelNotFoundError
	if errors.As(err, &notFound) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: notFound.Error(),
			Type:    "not_found",
			Code:    "model_not_found",
			Param:   "model",
		}
	}

	if errors.Is(err, router.ErrMissingInput) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "Input is required",
			Type:    "invalid_request_error",
			Code:    "missing_input",
		}
	}

	var backendErr *backend.Error
	if errors.As(err, &backendErr) {
		return requestError{
			Status:  backendErr.Status,
			Message: backendErr.Message,
			Type:    backendErr.Type,
			Code:    backendErr.Code,
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return requestError{
			Status:  httpErr.Code,
			Message: fmt.Sprint(httpErr.Message),
			Type:    "invalid_request_error",
		}
	}

	if errors.Is(err, context.Canceled) {
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "Request cancelled",
			Type:    "service_unavailable",
			Code:    "request_cancelled",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "Internal server error",
		Type:    "internal_error",
		Code:    "internal_error",
	}
}

// streamErrorMessage is the text carried by an in-band stream error frame.
func streamErrorMessage(err error) string {
	var backendErr *backend.Error
	if errors.As(err, &backendErr) {
		return backendErr.Message
	}
	return err.Error()
}
