package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"cligate/internal/backend"
	"cligate/internal/models"
	"cligate/internal/router"
	"cligate/internal/translator"
)

// Context window advertised for every model; the CLIs do not report one.
const maxModelLen = 128000

type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Backend      string `json:"backend"`
	CLIAvailable bool   `json:"cli_available"`
	Timestamp    string `json:"timestamp"`
}

type modelObject struct {
	ID          string       `json:"id"`
	Object      string       `json:"object"`
	Created     int64        `json:"created"`
	OwnedBy     models.Owner `json:"owned_by"`
	Permission  []any        `json:"permission"`
	Root        string       `json:"root"`
	Parent      *string      `json:"parent"`
	MaxModelLen int          `json:"max_model_len"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

func newModelObject(descriptor models.ModelDescriptor, created int64) modelObject {
	return modelObject{
		ID:          descriptor.ID,
		Object:      "model",
		Created:     created,
		OwnedBy:     descriptor.OwnedBy,
		Permission:  []any{},
		Root:        descriptor.ID,
		MaxModelLen: maxModelLen,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	_, err := s.router.BackendVersion(c.Request().Context())
	if err != nil {
		slog.Warn("backend cli unavailable", "backend", s.router.BackendName(), "err", err)
	}
	return respondJSON(c, http.StatusOK, healthResponse{
		Status:       "ok",
		Version:      s.version,
		Backend:      s.router.BackendName(),
		CLIAvailable: err == nil,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListModels(c echo.Context) error {
	now := time.Now().Unix()
	descriptors := s.router.Models(c.Request().Context())

	list := modelList{Object: "list", Data: make([]modelObject, 0, len(descriptors))}
	for _, descriptor := range descriptors {
		list.Data = append(list.Data, newModelObject(descriptor, now))
	}
	return respondJSON(c, http.StatusOK, list)
}

func (s *Server) handleGetModel(c echo.Context) error {
	descriptor, err := s.router.Model(c.Request().Context(), c.Param("model"))
	if err != nil {
		return toHTTPError(err)
	}
	return respondJSON(c, http.StatusOK, newModelObject(descriptor, time.Now().Unix()))
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	warnIgnored("chat.completions", req.IgnoredParams())

	ctx := c.Request().Context()
	route, err := s.router.Resolve(ctx, req.ToChatRequest(), false)
	if err != nil {
		return toHTTPError(err)
	}

	created := time.Now().Unix()
	if req.Stream {
		w := newSSEWriter(c)
		if err := s.router.Stream(ctx, route, newChatSink(w, route.Served, created)); err != nil {
			return finishStream(ctx, w, err)
		}
		return nil
	}

	completion, err := s.router.Complete(ctx, route)
	if err != nil {
		return toHTTPError(err)
	}
	return respondJSON(c, http.StatusOK, translator.FormatCompletion(completion.Text, completion.Model, created))
}

func (s *Server) handleResponses(c echo.Context) error {
	var req translator.ResponsesRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	warnIgnored("responses", req.IgnoredParams())

	ctx := c.Request().Context()
	route, err := s.router.Resolve(ctx, req.ToChatRequest(), true)
	if err != nil {
		return toHTTPError(err)
	}

	if req.Stream {
		return s.streamResponse(ctx, c, route)
	}

	completion, err := s.router.Complete(ctx, route)
	if err != nil {
		return toHTTPError(err)
	}
	return respondJSON(c, http.StatusOK, translator.FormatResponse(completion.Text, completion.Model, time.Now().Unix()))
}

// streamResponse announces the response before the CLI starts, so every
// later failure is reported in-band.
func (s *Server) streamResponse(ctx context.Context, c echo.Context, route router.Route) error {
	w := newSSEWriter(c)
	responseID := translator.NewResponseID()
	if err := w.Event(translator.ResponseCreated(responseID, route.Served)); err != nil {
		return err
	}

	var text strings.Builder
	err := s.router.StreamDeltas(ctx, route, func(delta backend.Delta) error {
		if delta.Content == "" {
			return nil
		}
		text.WriteString(delta.Content)
		return w.Event(translator.ResponseDelta(delta.Content))
	})
	if err != nil {
		return finishStream(ctx, w, err)
	}

	completed := translator.ResponseCompleted(responseID, translator.NewMessageID(), route.Served, text.String())
	if err := w.Event(completed); err != nil {
		return err
	}
	return w.Terminate()
}

// finishStream reports a failed stream: as an HTTP error when nothing has been
// written yet, otherwise as an in-band error frame.
func finishStream(ctx context.Context, w *sseWriter, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		slog.Info("client disconnected during stream", "err", err)
		return nil
	}
	if !w.Started() {
		return toHTTPError(err)
	}
	slog.Error("stream failed", "err", err)
	if writeErr := w.Fail(err); writeErr != nil {
		slog.Warn("failed to deliver stream error", "err", writeErr)
	}
	return nil
}

func warnIgnored(endpoint string, params []string) {
	if len(params) == 0 {
		return
	}
	slog.Warn("ignoring unsupported parameters", "endpoint", endpoint, "params", strings.Join(params, ", "))
}

// decodeRequestBody reads the whole body, records it for the request logger
// and unmarshals it into target. Validation errors from target's
// UnmarshalJSON are returned unchanged.
func decodeRequestBody(c echo.Context, target json.Unmarshaler) error {
	req := c.Request()
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("failed to read request body: %v", err),
			Type:    "invalid_request_error",
		}
	}
	captureFrom(c).recordRequest(body)

	if len(strings.TrimSpace(string(body))) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body is required",
			Type:    "invalid_request_error",
			Code:    "validation_error",
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		var validationErr *translator.ValidationError
		if errors.As(err, &validationErr) {
			return toHTTPError(validationErr)
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
			Code:    "validation_error",
		}
	}
	return nil
}

// respondJSON writes payload through the response capture.
func respondJSON(c echo.Context, status int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(status)
	if _, err := responseWriter(c).Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
