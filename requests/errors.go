package requests

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation indicates malformed or missing input, rejected before the
	// store is touched.
	ErrValidation = errors.New("invalid request")

	// ErrNotAuthorized indicates the acting identity is not the party allowed
	// to perform the transition.
	ErrNotAuthorized = errors.New("actor is not a party to this request")

	// ErrInvalidState indicates a transition was attempted from a
	// non-matching state, including the losing side of a mutation race.
	ErrInvalidState = errors.New("request is not in the expected state")

	// ErrNotFound indicates the row does not exist (or no longer exists).
	ErrNotFound = errors.New("request not found")

	// ErrUnavailable indicates the store or notification channel could not be
	// reached. Callers must not retry state transitions on it blindly.
	ErrUnavailable = errors.New("store unavailable")
)

// StatusCode maps the error taxonomy onto HTTP status codes for the API
// surface. Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
