package backend

import (
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
)

// ErrTimeout is the cause recorded when an execution exceeds its deadline.
var ErrTimeout = errors.New("request timeout")

// ErrUnknownBackend indicates the configured service has no implementation.
var ErrUnknownBackend = errors.New("unknown backend")

// Kind classifies a failed execution.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindExecution
	KindSpawn
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindExecution:
		return "execution"
	case KindSpawn:
		return "spawn"
	default:
		return "unknown"
	}
}

// Error carries the HTTP classification of a failed CLI execution so the
// server can translate it without inspecting messages.
type Error struct {
	Kind     Kind
	Backend  string
	Status   int
	Type     string
	Code     string
	Message  string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newTimeoutError(backend string) *Error {
	return &Error{
		Kind:    KindTimeout,
		Backend: backend,
		Status:  http.StatusGatewayTimeout,
		Type:    "timeout_error",
		Code:    "timeout_error",
		Message: "Request timeout",
		Err:     ErrTimeout,
	}
}

func newExecutionError(backend, stderr string, err error) *Error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = "Unknown error"
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &Error{
		Kind:     KindExecution,
		Backend:  backend,
		Status:   http.StatusServiceUnavailable,
		Type:     "service_unavailable",
		Code:     backend + "_execution_error",
		Message:  fmt.Sprintf("%s execution failed: %s", displayName(backend), detail),
		ExitCode: exitCode,
		Err:      err,
	}
}

func newSpawnError(backend string, err error) *Error {
	return &Error{
		Kind:     KindSpawn,
		Backend:  backend,
		Status:   http.StatusServiceUnavailable,
		Type:     "service_unavailable",
		Code:     backend + "_spawn_error",
		Message:  fmt.Sprintf("Failed to execute %s CLI: %v", displayName(backend), err),
		ExitCode: -1,
		Err:      err,
	}
}

// KindOf returns the classification of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

func displayName(backend string) string {
	switch backend {
	case "":
		return "Backend"
	case "claude":
		return "Claude Code"
	default:
		return strings.ToUpper(backend[:1]) + backend[1:]
	}
}
