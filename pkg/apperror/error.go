// Package apperror gives every orchestrator error kind one concrete value
// type instead of a Go type per kind, per the orchestrator's "error kinds are
// values, not exceptions" design (see domain/plan and domain/scheduler).
package apperror

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error is the application-wide error value. Code identifies the kind
// (InvalidPlan, ToolTimeout, ...); HTTPStatus is only consulted at the
// transport boundary.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// ToEchoError renders the error as an echo.HTTPError with a stable
// code+message body. Stack traces never leave the process.
func (e *Error) ToEchoError() *echo.HTTPError {
	body := map[string]any{"code": e.Code, "message": e.Message}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{"error": body})
}

func (e *Error) clone() *Error {
	cp := *e
	return &cp
}

// WithInternal attaches a wrapped cause, preserving Details/Message.
func (e *Error) WithInternal(err error) *Error {
	cp := e.clone()
	cp.Internal = err
	return cp
}

// WithMessage overrides the user-facing message.
func (e *Error) WithMessage(message string) *Error {
	cp := e.clone()
	cp.Message = message
	return cp
}

// WithDetails attaches structured context (e.g. cycle participants).
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := e.clone()
	cp.Details = details
	return cp
}

func New(status int, code, message string) *Error {
	return &Error{HTTPStatus: status, Code: code, Message: message}
}

// Error kinds named by spec §7. These are the canonical values; callers
// attach Details/Internal via the builder methods rather than constructing
// new Error values with ad-hoc codes.
var (
	ErrInvalidPlan           = New(http.StatusUnprocessableEntity, "invalid_plan", "plan violates an invariant")
	ErrInvalidTransition     = New(http.StatusConflict, "invalid_transition", "status transition not permitted")
	ErrRevisionConflict      = New(http.StatusConflict, "revision_conflict", "revision would drop a running task")
	ErrToolNotFound          = New(http.StatusNotFound, "tool_not_found", "no tool registered with that name")
	ErrToolArgsInvalid       = New(http.StatusBadRequest, "tool_args_invalid", "tool arguments failed schema validation")
	ErrToolTimeout           = New(http.StatusGatewayTimeout, "tool_timeout", "tool invocation timed out")
	ErrToolFailed            = New(http.StatusOK, "tool_failed", "tool executed and returned an error")
	ErrModelCallFailed       = New(http.StatusBadGateway, "model_call_failed", "model provider call failed")
	ErrModelOutputInvalid    = New(http.StatusBadGateway, "model_output_invalid", "model output did not match the expected schema")
	ErrPlanGenerationFailed  = New(http.StatusUnprocessableEntity, "plan_generation_failed", "could not generate a valid plan")
	ErrTaskMaxRoundsExceeded = New(http.StatusOK, "task_max_rounds_exceeded", "task reached its round limit")
	ErrCancelled             = New(http.StatusOK, "cancelled", "operation was cancelled")
	ErrProjectNotFound       = New(http.StatusNotFound, "project_not_found", "project not found")
	ErrUnauthorized          = New(http.StatusUnauthorized, "unauthorized", "authentication required")
	ErrSubscriberLag         = New(http.StatusOK, "subscriber_lag", "subscriber fell behind and dropped events")

	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "invalid request")
	ErrInternal   = New(http.StatusInternalServerError, "internal_error", "an internal error occurred")
)

// ToHTTPError renders any error (app-defined or not) as an HTTP status plus body.
func ToHTTPError(err error) (int, map[string]any) {
	if appErr, ok := err.(*Error); ok {
		body := map[string]any{"code": appErr.Code, "message": appErr.Message}
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
		return appErr.HTTPStatus, map[string]any{"error": body}
	}

	return http.StatusInternalServerError, map[string]any{
		"error": map[string]any{"code": "internal_error", "message": "an internal error occurred"},
	}
}

// HTTPErrorHandler adapts ToHTTPError into an echo.HTTPErrorHandler.
func HTTPErrorHandler(log interface {
	Error(msg string, args ...any)
}) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := ToHTTPError(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "error", err)
		}
		if jsonErr := c.JSON(status, body); jsonErr != nil {
			log.Error("failed writing error response", "error", jsonErr)
		}
	}
}

func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

func NewNotFound(resourceType, id string) *Error {
	return ErrProjectNotFound.WithMessage(fmt.Sprintf("%s %q not found", resourceType, id))
}

func NewInternal(message string, err error) *Error {
	return ErrInternal.WithMessage(message).WithInternal(err)
}
