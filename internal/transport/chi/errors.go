package chi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/kailas-cloud/listsync/internal/domain"
)

// Error codes returned in the "code" field of error responses.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeInvalidEvent     = "invalid_event"
	codeInvalidCursor    = "invalid_cursor"
	codeIndexUnavailable = "index_unavailable"
	codeFeedUnavailable  = "feed_unavailable"
	codeInternal         = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Code: code, Message: message})
}

// errorStatus maps a domain error to its HTTP status, error code and client-safe message.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, codeForbidden, domain.ErrPermissionDenied.Error()
	case errors.Is(err, domain.ErrInvalidCursor):
		return http.StatusBadRequest, codeInvalidCursor, err.Error()
	case errors.Is(err, domain.ErrInvalidEvent):
		return http.StatusBadRequest, codeInvalidEvent, err.Error()
	case errors.Is(err, domain.ErrIndexProvider):
		return http.StatusBadGateway, codeIndexUnavailable, domain.ErrIndexProvider.Error()
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}
