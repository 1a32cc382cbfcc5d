package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/validator"
)

// Response is the error envelope: {"error": {...}}.
type Response struct {
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// FlatError is the unwrapped error shape used by the auth endpoints.
type FlatError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, the error is logged but headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteNoContent writes an empty 204.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes err in the {"error": {...}} envelope. It prefers the
// request-scoped logger from context (set by the RequestLogger middleware)
// over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	apiErr := toAPIError(r, err, fallback)
	WriteJSON(w, apiErr.Status, Response{
		Error: &ErrorResponse{
			Code:      apiErr.Code,
			Message:   apiErr.Message,
			Details:   apiErr.Details,
			RequestID: logger.RequestIDFromContext(r.Context()),
		},
	})
}

// WriteFlatError writes err as a top-level {"code","message"} object.
func WriteFlatError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	apiErr := toAPIError(r, err, fallback)
	WriteJSON(w, apiErr.Status, FlatError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

func toAPIError(r *http.Request, err error, fallback *slog.Logger) *apierrors.APIError {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return valErr.APIError()
	}

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr
	}

	out := &apierrors.APIError{
		Status:  apierrors.HTTPStatus(err),
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
	}

	switch {
	case errors.Is(err, apierrors.ErrNotFound):
		out.Code, out.Message = "NOT_FOUND", "resource not found"
	case errors.Is(err, apierrors.ErrAlreadyExists):
		out.Code, out.Message = "ALREADY_EXISTS", "resource already exists"
	case errors.Is(err, apierrors.ErrConflict):
		out.Code, out.Message = "CONFLICT", err.Error()
	case errors.Is(err, apierrors.ErrInvalidInput):
		out.Code, out.Message = "INVALID_INPUT", err.Error()
	case errors.Is(err, apierrors.ErrUnauthorized):
		out.Code, out.Message = "UNAUTHORIZED", "authentication required"
	case errors.Is(err, apierrors.ErrForbidden):
		out.Code, out.Message = "FORBIDDEN", "access denied"
	case errors.Is(err, apierrors.ErrRateLimited):
		out.Code, out.Message = "RATE_LIMITED", "too many requests"
	}

	if out.Status == http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	return out
}

// ParseUUID validates that the given string is a valid UUID and returns it.
// If invalid, it writes a 400 Bad Request response with code INVALID_PARAMETER
// and returns uuid.Nil plus false, signaling the caller to return early.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "INVALID_PARAMETER",
				Message: "invalid UUID: " + param,
			},
		})
		return uuid.Nil, false
	}
	return id, true
}
