package model

import (
	"errors"
	"fmt"
)

// API error codes carried in ErrorEnvelope.Code.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrNotFound      = "NOT_FOUND"
	ErrInternalError = "INTERNAL_ERROR"

	ErrUnsupportedAction = "UNSUPPORTED_ACTION"
	ErrModeUnavailable   = "MODE_UNAVAILABLE"
	ErrPermissionDenied  = "PERMISSION_DENIED"
	ErrMissingContext    = "MISSING_CONTEXT"
	ErrInvalidURL        = "INVALID_URL"
	ErrNavigationFailed  = "NAVIGATION_FAILED"
	ErrNoModal           = "NO_MODAL"
	ErrModalConfig       = "MODAL_CONFIG"
	ErrServiceCall       = "SERVICE_CALL"
)

// ErrorEnvelope is the body of every failed API response, nested under
// "error".
type ErrorEnvelope struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
	TraceID string        `json:"trace_id"`
}

func (e *ErrorEnvelope) Error() string { return e.Code + ": " + e.Message }

// ErrorDetail pins a failure to one input or failure kind.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var defaultMessages = map[string]string{
	ErrBadRequest:    "The request is malformed",
	ErrUnauthorized:  "Authentication required",
	ErrNotFound:      "Not found",
	ErrInternalError: "An unexpected error occurred",
}

// APIError builds an envelope. An empty msg takes the code's stock message.
func APIError(code, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = defaultMessages[code]
	}
	return &ErrorEnvelope{Code: code, Message: msg}
}

// ConfigErrorKind classifies modal configuration failures.
type ConfigErrorKind string

const (
	ConfigNotFound    ConfigErrorKind = "NotFound"
	ConfigParseError  ConfigErrorKind = "ParseError"
	ConfigSchemaError ConfigErrorKind = "SchemaError"
)

// ConfigError is returned by the modal loader. Callers recover from every
// kind by falling back to the action's hardcoded component.
type ConfigError struct {
	Kind     ConfigErrorKind
	ConfigID string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("modal config %q: %s", e.ConfigID, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is matches another *ConfigError of the same kind, so callers can test
// errors.Is(err, &ConfigError{Kind: ConfigNotFound}).
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	return ok && t.Kind == e.Kind
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ExecutorErrorKind classifies service-call failures.
type ExecutorErrorKind string

const (
	ExecInvalidFormat     ExecutorErrorKind = "InvalidFormat"
	ExecUnknownService    ExecutorErrorKind = "UnknownService"
	ExecUnknownMethod     ExecutorErrorKind = "UnknownMethod"
	ExecMissingParameter  ExecutorErrorKind = "MissingParameter"
	ExecRequiresUIContext ExecutorErrorKind = "RequiresUIContext"
	ExecTimeout           ExecutorErrorKind = "Timeout"
	ExecRateLimited       ExecutorErrorKind = "RateLimited"
	ExecUnavailable       ExecutorErrorKind = "Unavailable"
	ExecServiceFailed     ExecutorErrorKind = "ServiceFailed"
	ExecCanceled          ExecutorErrorKind = "Canceled"
)

var remediations = map[ExecutorErrorKind]string{
	ExecInvalidFormat:     "This action is misconfigured. Please update the app.",
	ExecUnknownService:    "This action isn't supported on this device.",
	ExecUnknownMethod:     "This action isn't supported on this device.",
	ExecMissingParameter:  "Some information is missing. Try reloading the email.",
	ExecRequiresUIContext: "Open the email to complete this action.",
	ExecTimeout:           "This is taking too long. Please try again.",
	ExecRateLimited:       "Too many requests. Please wait a moment and try again.",
	ExecUnavailable:       "This service is temporarily unavailable. Please try again later.",
	ExecServiceFailed:     "Something went wrong. Please try again.",
	ExecCanceled:          "The action was cancelled.",
}

// ExecutorError is returned by the service-call dispatcher.
type ExecutorError struct {
	Kind       ExecutorErrorKind
	Descriptor string
	// Key is the missing parameter for MissingParameter.
	Key string
	Err error
}

func (e *ExecutorError) Error() string {
	msg := fmt.Sprintf("service call %q: %s", e.Descriptor, e.Kind)
	if e.Key != "" {
		msg += "(" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// Is matches another *ExecutorError of the same kind. A target Key, when
// set, must match too.
func (e *ExecutorError) Is(target error) bool {
	t, ok := target.(*ExecutorError)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Key == "" || t.Key == e.Key
}

// Remediation returns the user-facing message for the error kind.
func (e *ExecutorError) Remediation() string {
	if msg, ok := remediations[e.Kind]; ok {
		return msg
	}
	return remediations[ExecServiceFailed]
}

// NavError reports a failure to open a URL. It is never fatal.
type NavError struct {
	URL string
	Err error
}

func (e *NavError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("open %q failed", e.URL)
	}
	return fmt.Sprintf("open %q: %v", e.URL, e.Err)
}

func (e *NavError) Unwrap() error { return e.Err }

// ActionError is the terminal failure of an action invocation.
type ActionError struct {
	Code     string
	ActionID string
	Message  string
	Err      error
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("action %q: %s: %s", e.ActionID, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionError) Unwrap() error { return e.Err }

// UserMessage returns the dismissable message shown for the failure.
func (e *ActionError) UserMessage() string {
	switch e.Code {
	case ErrUnsupportedAction:
		return "This action isn't supported."
	case ErrModeUnavailable:
		return "This action isn't available in this mode."
	case ErrPermissionDenied:
		return "Upgrade your plan to use this action."
	case ErrMissingContext:
		return "This action can't be completed yet."
	case ErrInvalidURL:
		return "This link can't be opened."
	case ErrNavigationFailed:
		return "Couldn't open the link. Please try again."
	case ErrNoModal:
		return "This action can't be shown right now."
	default:
		return "Something went wrong. Please try again."
	}
}
