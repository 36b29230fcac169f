package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	e := EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(eb.context) > 0 {
		e.Context = eb.context
	}
	return e
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	log zerolog.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(log zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{log: log}
}

// HandleError writes err with status. Non-EngineError values become
// internal errors.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	engineErr, ok := err.(EngineError)
	if !ok {
		engineErr = NewError(ErrTypeInternal, err.Error()).
			WithContext("path", r.URL.Path).
			WithContext("method", r.Method).
			Build()
	}
	if engineErr.RequestID == "" {
		engineErr.RequestID = middleware.GetReqID(r.Context())
	}
	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	engineErr := NewError(ErrTypeValidation, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		Build()

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// logError logs the error with a level chosen by category and status
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)

	ev := eh.log.Error()
	if status < 500 {
		ev = eh.log.Warn()
	}
	ev = ev.Str("type", engineErr.Type).
		Str("category", string(category)).
		Int("status", status).
		Str("request_id", engineErr.RequestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_ip", r.RemoteAddr)
	for key, value := range engineErr.Context {
		// public signals and proofs are bulky; never log them
		if key == "proof" || key == "public_signals" {
			continue
		}
		ev = ev.Interface(key, value)
	}
	ev.Msg("error_occurred")
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", Version)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.log.Error().Err(err).Msg("error_encode_failed")
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())
				eh.log.Error().
					Str("request_id", requestID).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("panic", fmt.Sprintf("%v", rvr)).
					Msg("panic_recovered")

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()
				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
