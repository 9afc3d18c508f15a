package server

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"cligate/internal/config"
)

const (
	captureContextKey = "cligate.capture"
	requestIDPrefix   = "req-"
	loggedBodyLimit   = 1000
)

func newRequestID() string {
	return requestIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// bodyCapture holds the bodies the request logger prints. response is nil
// when response bodies are not logged.
type bodyCapture struct {
	logRequest bool
	request    []byte
	response   *bytes.Buffer
}

func (b *bodyCapture) recordRequest(body []byte) {
	if b == nil || !b.logRequest {
		return
	}
	b.request = body
}

func captureBodies(cfg config.LoggingConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.LogRequestBody && !cfg.LogResponseBody {
				return next(c)
			}
			capture := &bodyCapture{logRequest: cfg.LogRequestBody}
			if cfg.LogResponseBody {
				capture.response = &bytes.Buffer{}
			}
			c.Set(captureContextKey, capture)
			return next(c)
		}
	}
}

func captureFrom(c echo.Context) *bodyCapture {
	capture, _ := c.Get(captureContextKey).(*bodyCapture)
	return capture
}

// responseWriter returns the writer handlers use for the body, teeing into the
// response capture when response logging is on.
func responseWriter(c echo.Context) io.Writer {
	if capture := captureFrom(c); capture != nil && capture.response != nil {
		return io.MultiWriter(c.Response(), capture.response)
	}
	return c.Response()
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
			}
			if capture := captureFrom(c); capture != nil {
				if len(capture.request) > 0 {
					attrs = append(attrs, "request_body", truncateBody(capture.request))
				}
				if capture.response != nil && capture.response.Len() > 0 {
					attrs = append(attrs, "response_body", truncateBody(capture.response.Bytes()))
				}
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}

func truncateBody(body []byte) string {
	runes := []rune(string(body))
	if len(runes) <= loggedBodyLimit {
		return string(runes)
	}
	return string(runes[:loggedBodyLimit]) + "..."
}

func corsMiddleware(origins []string) echo.MiddlewareFunc {
	wildcard := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
		}
	}
	if wildcard {
		origins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: !wildcard,
	})
}

func rateLimiter(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(cfg.Max) / cfg.Window.Seconds()),
		Burst:     cfg.Max,
		ExpiresIn: cfg.Window,
	})
	retryAfter := int(cfg.Window / time.Second)

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return requestError{
				Status:  http.StatusForbidden,
				Message: "Unable to identify client",
				Type:    "invalid_request_error",
				Code:    "rate_limit_identifier",
			}
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if retryAfter > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			return requestError{
				Status:  http.StatusTooManyRequests,
				Message: "Too many requests, please try again later",
				Type:    "rate_limit_error",
				Code:    "rate_limit_exceeded",
			}
		},
	})
}

func apiKeyAuth(key string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(candidate string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return authError(c.Request().Header.Get(echo.HeaderAuthorization))
		},
	})
}

// authError names what was wrong with the Authorization header.
func authError(header string) requestError {
	reqErr := requestError{
		Status: http.StatusUnauthorized,
		Type:   "authentication_error",
	}
	parts := strings.Split(header, " ")
	switch {
	case strings.TrimSpace(header) == "":
		reqErr.Message = "Missing API key"
		reqErr.Code = "missing_api_key"
	case len(parts) != 2 || parts[0] != "Bearer":
		reqErr.Message = "Invalid authorization format. Expected: Bearer <api-key>"
		reqErr.Code = "invalid_auth_format"
	default:
		reqErr.Message = "Invalid API key"
		reqErr.Code = "invalid_api_key"
	}
	return reqErr
}
