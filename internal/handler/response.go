package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors from
// the small JSON surface (/healthz, /api/articles/*).
//
// CONSISTENT ERROR FORMAT:
// Every JSON error has the same shape:
//   {"error": "not_found", "message": "article not found with id intro.md@master"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/pskb/internal/apperror"
)

// ErrorResponse is the standard error format returned by JSON endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE writing the body. Once Encode
// writes, the headers are gone and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to an HTTP status and a machine-readable
// error type. errors.Is walks the Unwrap chain, so wrapped AppErrors map
// the same as bare ones.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrMalformed):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrDenied):
		return http.StatusForbidden, "authorization_denied"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to a JSON error response.
//
// Upstream and unknown errors get a generic message: their text can carry
// hostnames and API payloads that do not belong in a response.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := statusFor(err)

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status != http.StatusBadGateway && status != http.StatusInternalServerError {
		writeJSON(w, status, ErrorResponse{Error: errorType, Message: appErr.Message})
		return
	}

	message := "An internal error occurred"
	if status == http.StatusBadGateway {
		message = "The content host could not be reached"
	}
	writeJSON(w, status, ErrorResponse{Error: errorType, Message: message})
}

// reviewURL is where a saved or requested article is shown.
func reviewURL(path, branch string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/review/" + strings.Join(segments, "/") + "?branch=" + url.QueryEscape(branch)
}

// safeRedirect accepts only same-site paths for post-login redirects.
// "//host" and "/\host" are treated by browsers as absolute URLs.
func safeRedirect(target string) bool {
	return strings.HasPrefix(target, "/") &&
		!strings.HasPrefix(target, "//") &&
		!strings.HasPrefix(target, "/\\")
}
