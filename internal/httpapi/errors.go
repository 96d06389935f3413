package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tutor/internal/manager"
	"tutor/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps a service error to the response status used before any
// stream line has been written.
func statusFor(err error) int {
	switch {
	case manager.IsInvalidRequest(err):
		return http.StatusBadRequest
	case manager.IsNotReady(err), errors.Is(err, manager.ErrClosed):
		return http.StatusServiceUnavailable
	case manager.IsBusy(err):
		return http.StatusTooManyRequests
	case manager.IsStall(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case manager.IsGeneration(err):
		return http.StatusBadGateway
	case errors.Is(err, manager.ErrLoadInProgress):
		return http.StatusConflict
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
