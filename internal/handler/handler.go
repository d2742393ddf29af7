// Package handler exposes the workflow services over HTTP. Routes use the
// method-and-path patterns of net/http's mux; request bodies are validated
// with go-playground/validator before reaching the services.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/pesio-ai/be-hr-workflows/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    string(apperrors.ErrCodeInternal),
			Message: "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case apperrors.ErrCodeConflict,
		apperrors.ErrCodeInvalidTransition,
		apperrors.ErrCodeStaleApproval,
		apperrors.ErrCodePhasePrecondition,
		apperrors.ErrCodeOverlappingCycle,
		apperrors.ErrCodeDuplicateWorkflow:
		status = http.StatusConflict
	case apperrors.ErrCodeConfiguration:
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, errorResponse{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// decode parses and validates a JSON request body.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput("body", "malformed JSON")
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "request validation failed")
	}
	return nil
}

// actorID extracts the acting user from the gateway-injected header.
// TODO: replace with JWT claims once the platform auth middleware lands.
func actorID(r *http.Request) (string, error) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return "", apperrors.New(apperrors.ErrCodeUnauthorized, "missing X-User-Id header")
	}
	return id, nil
}
