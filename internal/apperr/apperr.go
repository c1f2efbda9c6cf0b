// Package apperr defines the error taxonomy shared by the realtime core.
// Callers wrap these sentinels with fmt.Errorf("...: %w", ...) so that
// handlers can map any error back to a transport status with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized covers a missing, malformed or expired credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden covers an authenticated caller acting on a conversation
	// or session it does not belong to.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation covers malformed input, e.g. an empty message body.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers an unknown message or session.
	ErrNotFound = errors.New("not found")
	// ErrExpired covers a session that exists but is already terminal.
	ErrExpired = errors.New("expired")
	// ErrInvalidTransition covers a message status move that is not
	// strictly forward in sent < delivered < read.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidState covers a call state-machine violation.
	ErrInvalidState = errors.New("invalid session state")
	// ErrAlreadyActive covers a duplicate live call session for a pair.
	ErrAlreadyActive = errors.New("call already active")
	// ErrDeliveryFailed is best-effort and non-fatal: the recipient had no
	// reachable connection. Persisted records stay valid regardless.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// HTTPStatus maps a core error to the status code the REST surface returns.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, ErrDeliveryFailed):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the short machine-readable code used in websocket error
// replies and REST error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	default:
		return "internal"
	}
}
