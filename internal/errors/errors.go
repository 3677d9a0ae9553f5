// Package errors maps application errors onto the HTTP error envelope.
//
// Import it as apperrors.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/config"
	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/event"
	"github.com/3leaps/geneflow/pkg/jobregistry"
	"github.com/3leaps/geneflow/pkg/pipeline"
	"github.com/3leaps/geneflow/pkg/provider"
)

// Error codes used in envelopes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the content of an error envelope.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// AppError carries an HTTP status and envelope code with its cause.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns e with details attached.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

func NewForbidden(message string) *AppError {
	return &AppError{Status: http.StatusForbidden, Code: CodeForbidden, Message: message}
}

func NewNotFound(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func NewMethodNotAllowed(message string) *AppError {
	return &AppError{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: message}
}

func NewTooManyRequests(message string) *AppError {
	return &AppError{Status: http.StatusTooManyRequests, Code: CodeTooManyRequests, Message: message}
}

func NewServiceUnavailable(message string, err error) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Err: err}
}

// WrapInternal marks err as an unexpected failure.
func WrapInternal(err error) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error", Err: err}
}

// Classify maps err to an AppError. Sentinel errors of the pipeline packages
// get their own status; anything else is internal.
func Classify(err error) *AppError {
	var app *AppError
	if stderrors.As(err, &app) {
		return app
	}

	var missing *config.MissingError
	switch {
	case stderrors.Is(err, jobregistry.ErrJobNotFound), provider.IsNotFound(err):
		return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "not found", Err: err}
	case stderrors.Is(err, pipeline.ErrInvalidJobID), stderrors.Is(err, event.ErrMalformedPayload):
		return NewBadRequest("bad request", err)
	case stderrors.As(err, &missing):
		return NewServiceUnavailable("service not configured", err)
	case provider.IsProviderUnavailable(err), provider.IsThrottled(err), stderrors.Is(err, context.DeadlineExceeded):
		return NewServiceUnavailable("upstream unavailable", err)
	}
	return WrapInternal(err)
}

// RespondWithError writes the envelope for err. Server-side failures are
// logged with the request logger.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	app := Classify(err)
	if app.Status >= http.StatusInternalServerError {
		observability.Logger(r.Context()).Error("Request failed",
			zap.String("code", app.Code),
			zap.Int("status", app.Status),
			zap.Error(err))
	}

	msg := app.Message
	if app.Err != nil {
		msg = app.Error()
	}
	WriteError(w, r, app.Status, ErrorBody{Code: app.Code, Message: msg, Details: app.Details})
}

// WriteError writes body with status, filling in the request id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	if body.RequestID == "" && r != nil {
		body.RequestID = observability.RequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}
