// Package transport contains the HTTP router, middleware chain, and request
// handlers that expose actions, modals, and service calls to the mobile
// client.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/triage/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:    http.StatusBadRequest,
	model.ErrUnauthorized:  http.StatusUnauthorized,
	model.ErrNotFound:      http.StatusNotFound,
	model.ErrInternalError: http.StatusInternalServerError,

	model.ErrUnsupportedAction: http.StatusNotFound,
	model.ErrModeUnavailable:   http.StatusConflict,
	model.ErrPermissionDenied:  http.StatusForbidden,
	model.ErrMissingContext:    http.StatusUnprocessableEntity,
	model.ErrInvalidURL:        http.StatusUnprocessableEntity,
	model.ErrNavigationFailed:  http.StatusBadGateway,
	model.ErrNoModal:           http.StatusInternalServerError,
	model.ErrModalConfig:       http.StatusInternalServerError,
	model.ErrServiceCall:       http.StatusBadGateway,
}

// statusClientClosed is the nginx convention for a request the client
// abandoned.
const statusClientClosed = 499

// statusForKind maps service-call failures to HTTP status codes.
var statusForKind = map[model.ExecutorErrorKind]int{
	model.ExecInvalidFormat:     http.StatusBadRequest,
	model.ExecUnknownService:    http.StatusNotFound,
	model.ExecUnknownMethod:     http.StatusNotFound,
	model.ExecMissingParameter:  http.StatusUnprocessableEntity,
	model.ExecRequiresUIContext: http.StatusConflict,
	model.ExecTimeout:           http.StatusGatewayTimeout,
	model.ExecRateLimited:       http.StatusTooManyRequests,
	model.ExecUnavailable:       http.StatusServiceUnavailable,
	model.ExecServiceFailed:     http.StatusBadGateway,
	model.ExecCanceled:          statusClientClosed,
}

// StatusFor returns the HTTP status for an ErrorEnvelope or ActionError code.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an error envelope. ErrorEnvelopes, ActionErrors
// and ExecutorErrors keep their codes; anything else becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee, status := envelopeFor(err)
	WriteJSON(w, status, errorResponse{Error: ee})
}

func envelopeFor(err error) (*model.ErrorEnvelope, int) {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, StatusFor(ee.Code)
	}

	var ae *model.ActionError
	if errors.As(err, &ae) {
		return &model.ErrorEnvelope{Code: ae.Code, Message: ae.UserMessage()}, StatusFor(ae.Code)
	}

	var xe *model.ExecutorError
	if errors.As(err, &xe) {
		env := model.APIError(model.ErrServiceCall, xe.Remediation())
		env.Details = []model.ErrorDetail{{Field: xe.Key, Kind: string(xe.Kind), Message: xe.Error()}}
		status, ok := statusForKind[xe.Kind]
		if !ok {
			status = http.StatusBadGateway
		}
		return env, status
	}

	return model.APIError(model.ErrInternalError, ""), http.StatusInternalServerError
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.APIError(model.ErrNotFound, msg))
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, model.APIError(model.ErrBadRequest, msg))
}
