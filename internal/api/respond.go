package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/austindbirch/taskmesh/internal/auth"
	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/existence"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/user"
	"github.com/austindbirch/taskmesh/internal/validation"
)

// maxBodyBytes caps request bodies on every JSON endpoint
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes. A missing referenced
// resource is 422 so callers can tell it apart from a missing path resource.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrInvalidCredentials),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrMalformed),
		errors.Is(err, auth.ErrBadSignature),
		errors.Is(err, auth.ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, existence.ErrNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, existence.ErrUnavailable), errors.Is(err, bus.ErrPublish):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as {"error": ...}. Internal errors are
// not echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status := statusFor(err)
	entry := logger.WithContext(r.Context()).
		WithField("method", r.Method).
		WithField("path", r.URL.Path).
		WithField("status", status).
		WithError(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		entry.Error("request failed")
		msg = http.StatusText(status)
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body into v. Malformed bodies are validation errors.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", validation.ErrInvalid, err)
	}
	return nil
}
